package ice

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/iceagent/stun"
)

// CredentialsAuthority answers dynamic key lookups the CredentialsManager's
// static maps don't cover, e.g. a TURN server validating long-term
// credentials against an external user database.
type CredentialsAuthority interface {
	LocalKey(username string) ([]byte, bool)
	RemoteKey(username, media string) ([]byte, bool)
}

// CredentialsManager resolves USERNAME attributes to the short-term
// credential keys used for MESSAGE-INTEGRITY, per spec.md §3. It is shared
// by every CheckList and the connectivity-check server on one Stack.
type CredentialsManager struct {
	mu sync.RWMutex

	localUfrag    string
	localPassword string

	remoteUfrag    string
	remotePassword string

	localKeys  map[string][]byte
	remoteKeys map[string][]byte // keyed by username alone; media is not part of the key

	authorities []CredentialsAuthority
}

// NewCredentialsManager builds a manager seeded with the local and remote
// ICE ufrag/password pairs exchanged out-of-band (e.g. over SDP). It returns
// an error if any of the four fields is empty, since an empty ufrag or
// password can never authenticate a real exchange.
func NewCredentialsManager(localUfrag, localPassword, remoteUfrag, remotePassword string) (*CredentialsManager, error) {
	if localUfrag == "" || localPassword == "" {
		return nil, errors.Errorf("ice: local ufrag/password must not be empty")
	}
	if remoteUfrag == "" || remotePassword == "" {
		return nil, errors.Errorf("ice: remote ufrag/password must not be empty")
	}

	cm := &CredentialsManager{
		localUfrag:     localUfrag,
		localPassword:  localPassword,
		remoteUfrag:    remoteUfrag,
		remotePassword: remotePassword,
		localKeys:      make(map[string][]byte),
		remoteKeys:     make(map[string][]byte),
	}
	cm.localKeys[localUfrag] = stun.ShortTermKey(localPassword)
	cm.remoteKeys[remoteUfrag] = stun.ShortTermKey(remotePassword)
	return cm, nil
}

// RegisterAuthority adds a dynamic lookup source consulted after the static
// maps, for stacks that need to validate credentials they didn't mint
// themselves (e.g. a TURN relay).
func (cm *CredentialsManager) RegisterAuthority(a CredentialsAuthority) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.authorities = append(cm.authorities, a)
}

// Username is the USERNAME attribute value this agent sends on outgoing
// Binding Requests: the concatenation of the remote and local ice-ufrag
// fragments, per RFC 8445 §7.1.2.3.
func (cm *CredentialsManager) Username() string {
	return cm.remoteUfrag + ":" + cm.localUfrag
}

// LocalUfrag returns this agent's local ice-ufrag fragment, used by the
// connectivity-check server to validate inbound USERNAME prefixes.
func (cm *CredentialsManager) LocalUfrag() string {
	return cm.localUfrag
}

// LocalKey returns the key used to sign/verify messages this agent
// authenticates as the responder (i.e. our own username).
func (cm *CredentialsManager) LocalKey(username string) ([]byte, bool) {
	cm.mu.RLock()
	key, ok := cm.localKeys[username]
	cm.mu.RUnlock()
	if ok {
		return key, true
	}
	for _, a := range cm.authorities {
		if key, ok := a.LocalKey(username); ok {
			return key, true
		}
	}
	return nil, false
}

// RemoteKey returns the key used to sign/verify messages sent to the peer
// identified by username. The static map ignores media and returns the same
// key for every stream; media is passed on only to registered authorities.
func (cm *CredentialsManager) RemoteKey(username, media string) ([]byte, bool) {
	cm.mu.RLock()
	key, ok := cm.remoteKeys[username]
	cm.mu.RUnlock()
	if ok {
		return key, true
	}
	for _, a := range cm.authorities {
		if key, ok := a.RemoteKey(username, media); ok {
			return key, true
		}
	}
	return nil, false
}

// LocalPassword and RemotePassword back the checklist's own request/response
// signing when it already knows which side of the exchange it's on rather
// than looking up by username.
func (cm *CredentialsManager) LocalPassword() string  { return cm.localPassword }
func (cm *CredentialsManager) RemotePassword() string { return cm.remotePassword }
