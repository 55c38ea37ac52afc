package nlink

// SetSeq moves the sequence counter; the next request uses seq+1.
func SetSeq(hub *RtHub, seq uint32) {
	hub.lock.Lock()
	defer hub.lock.Unlock()
	hub.seq = seq
}
