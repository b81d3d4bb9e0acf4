package nfsv3

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// mount sends MOUNTPROC3_MNT for export over t and returns the root file
// handle. Reply wire shape is status, then handle, then auth flavor list.
func mount(t *transport, export string) ([]byte, error) {
	var args bytes.Buffer
	writeOpaqueString(&args, export)

	result, err := t.call(mountProgram, mountVersion, mountProcMnt, args.Bytes())
	if err != nil {
		return nil, fmt.Errorf("MNT %s: %w", export, err)
	}

	r := bytes.NewReader(result)
	var status uint32
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return nil, fmt.Errorf("MNT %s: read status: %w", export, err)
	}
	if status != 0 {
		return nil, fmt.Errorf("MNT %s: server returned status %d", export, status)
	}

	handle, err := readOpaque(r)
	if err != nil {
		return nil, fmt.Errorf("MNT %s: read file handle: %w", export, err)
	}
	return handle, nil
}

func umount(t *transport, export string) error {
	var args bytes.Buffer
	writeOpaqueString(&args, export)
	_, err := t.call(mountProgram, mountVersion, mountProcUmnt, args.Bytes())
	return err
}

func writeOpaqueString(buf *bytes.Buffer, s string) {
	writeOpaque(buf, []byte(s))
}
