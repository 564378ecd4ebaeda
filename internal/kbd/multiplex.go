package kbd

import "golang.org/x/sys/unix"

// Multiplex polls the given LOCKED keyboards' descriptors and returns the
// index of one that is readable, or -1 on timeout. If several are
// simultaneously ready the lowest-indexed one is returned, so callers see
// a deterministic tie-break.
func Multiplex(kbds []*Keyboard, timeoutMS int) (int, error) {
	if len(kbds) == 0 {
		return -1, nil
	}

	pfds := make([]unix.PollFd, len(kbds))
	for i, k := range kbds {
		k.mu.Lock()
		fd := k.fd
		k.mu.Unlock()
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	n, err := unix.Poll(pfds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return -1, nil
		}
		return -1, err
	}
	if n == 0 {
		return -1, nil
	}

	for i, pfd := range pfds {
		if pfd.Revents&unix.POLLIN != 0 {
			return i, nil
		}
	}
	return -1, nil
}
