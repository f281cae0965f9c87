package server

// ChanSvc serializes store operations: everything queued on the channel runs
// on one goroutine, in queue order.
type ChanSvc chan func()

// SvcSync queues code and waits for its result.
func SvcSync[T any](s ChanSvc, code func() (T, error)) (T, error) {
	result := make(chan bool)
	var value T
	var err error
	Svc(s, func() {
		value, err = code()
		result <- true
	})
	<-result
	return value, err
}

// Svc queues code without waiting.
func Svc(s ChanSvc, code func()) {
	go func() { // using a goroutine so the channel won't block
		s <- code
	}()
}

// RunSvc runs a service. Close the channel to stop it.
func RunSvc(s ChanSvc) {
	go func() {
		for {
			cmd, ok := <-s
			if !ok {
				break
			}
			cmd()
		}
	}()
}
