//go:build linux || darwin

package region

import (
	"os"

	"golang.org/x/sys/unix"
)

const prot = unix.PROT_READ | unix.PROT_WRITE

type sysOps struct{}

func (sysOps) mmapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, prot, unix.MAP_ANON|unix.MAP_SHARED)
}

func (sysOps) mmapZero(size int) ([]byte, error) {
	f, err := os.OpenFile("/dev/zero", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
}

func (sysOps) shmGet(size int) (int, error) {
	return unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o600)
}

func (sysOps) shmAttach(id int) ([]byte, error) {
	return unix.SysvShmAttach(id, 0, 0)
}

func (sysOps) shmDetach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}

func (sysOps) shmRemove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}

func (sysOps) munmap(mem []byte) error {
	return unix.Munmap(mem)
}
