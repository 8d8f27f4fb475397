package transport

import "sync"

// Registry keeps the live sessions of a worker keyed by peer. Unlike a mesh
// session manager it never elects between links: every endpoint a remote
// worker opens is its own logical connection and is kept until it closes.
type Registry struct {
    mu     sync.RWMutex
    peers  map[PeerID]Session
    closed bool
}

func NewRegistry() *Registry { return &Registry{peers: make(map[PeerID]Session)} }

// Add registers s under its peer id. If the registry is already closed, or
// another session holds the same id, s is closed and false is returned.
func (r *Registry) Add(s Session) bool {
    pid := s.Peer().ID
    r.mu.Lock()
    if r.closed {
        r.mu.Unlock()
        _ = s.Close()
        return false
    }
    if _, dup := r.peers[pid]; dup {
        r.mu.Unlock()
        _ = s.Close()
        return false
    }
    r.peers[pid] = s
    r.mu.Unlock()
    return true
}

// Rebind moves a session from oldID to newID once the true identity is known.
// Returns false if oldID is unknown or newID is already taken.
func (r *Registry) Rebind(oldID, newID PeerID) bool {
    if oldID == newID || newID == "" { return false }
    r.mu.Lock()
    defer r.mu.Unlock()
    s := r.peers[oldID]
    if s == nil { return false }
    if _, taken := r.peers[newID]; taken { return false }
    delete(r.peers, oldID)
    if mp, ok := s.(MutablePeer); ok {
        pi := s.Peer(); pi.ID = newID; mp.SetPeer(pi)
    }
    r.peers[newID] = s
    return true
}

// ClosePeer closes the session for id and forgets it.
func (r *Registry) ClosePeer(id PeerID) {
    r.mu.Lock()
    s := r.peers[id]
    delete(r.peers, id)
    r.mu.Unlock()
    if s != nil { _ = s.Close() }
}

// CloseAll closes every session and rejects further Adds.
func (r *Registry) CloseAll() {
    r.mu.Lock()
    r.closed = true
    sessions := make([]Session, 0, len(r.peers))
    for id, s := range r.peers {
        sessions = append(sessions, s)
        delete(r.peers, id)
    }
    r.mu.Unlock()
    for _, s := range sessions { _ = s.Close() }
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
    r.mu.RLock(); defer r.mu.RUnlock()
    return len(r.peers)
}

// MutablePeer is an optional interface that Sessions implement to allow
// updating the peer identity after the hello frame.
type MutablePeer interface {
    SetPeer(PeerInfo)
}
