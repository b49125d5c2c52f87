//go:build !linux && !darwin

package region

import "github.com/pkg/errors"

var errUnsupported = errors.New("shared memory not supported on this platform")

type sysOps struct{}

func (sysOps) mmapAnon(int) ([]byte, error)  { return nil, errUnsupported }
func (sysOps) mmapZero(int) ([]byte, error)  { return nil, errUnsupported }
func (sysOps) shmGet(int) (int, error)       { return -1, errUnsupported }
func (sysOps) shmAttach(int) ([]byte, error) { return nil, errUnsupported }
func (sysOps) shmDetach([]byte) error        { return errUnsupported }
func (sysOps) shmRemove(int) error           { return errUnsupported }
func (sysOps) munmap([]byte) error           { return errUnsupported }
