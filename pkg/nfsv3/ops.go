package nfsv3

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// lookup resolves one path component under dirHandle, RFC 1813 §3.3.3.
// Callers walk a relative path one component at a time (see
// Context.resolve), issuing one LOOKUP per component.
func lookup(t *transport, dirHandle []byte, name string) (fileHandle []byte, attr fattr3, err error) {
	var args bytes.Buffer
	writeOpaque(&args, dirHandle)
	writeOpaqueString(&args, name)

	result, err := t.call(nfsProgram, nfsVersion, nfsProcLookup, args.Bytes())
	if err != nil {
		return nil, fattr3{}, fmt.Errorf("LOOKUP %s: %w", name, err)
	}

	r := bytes.NewReader(result)
	status, err := readStatus(r)
	if err != nil {
		return nil, fattr3{}, err
	}
	if status != nfs3OK {
		return nil, fattr3{}, statusError("LOOKUP", name, status)
	}

	fh, err := readOpaque(r)
	if err != nil {
		return nil, fattr3{}, fmt.Errorf("LOOKUP %s: read handle: %w", name, err)
	}
	a, present, err := decodeOptionalFattr3(r)
	if err != nil {
		return nil, fattr3{}, fmt.Errorf("LOOKUP %s: read attrs: %w", name, err)
	}
	if !present {
		a, err = getattr(t, fh)
		if err != nil {
			return fh, fattr3{}, nil
		}
	}
	return fh, a, nil
}

func getattr(t *transport, handle []byte) (fattr3, error) {
	var args bytes.Buffer
	writeOpaque(&args, handle)

	result, err := t.call(nfsProgram, nfsVersion, nfsProcGetattr, args.Bytes())
	if err != nil {
		return fattr3{}, fmt.Errorf("GETATTR: %w", err)
	}

	r := bytes.NewReader(result)
	status, err := readStatus(r)
	if err != nil {
		return fattr3{}, err
	}
	if status != nfs3OK {
		return fattr3{}, statusError("GETATTR", "", status)
	}
	return decodeFattr3(r)
}

// read issues one NFSv3 READ call. RFC 1813 §3.3.6.
func read(t *transport, handle []byte, offset uint64, count uint32) (data []byte, eof bool, err error) {
	var args bytes.Buffer
	writeOpaque(&args, handle)
	binary.Write(&args, binary.BigEndian, offset)
	binary.Write(&args, binary.BigEndian, count)

	result, err := t.call(nfsProgram, nfsVersion, nfsProcRead, args.Bytes())
	if err != nil {
		return nil, false, fmt.Errorf("READ: %w", err)
	}

	r := bytes.NewReader(result)
	status, err := readStatus(r)
	if err != nil {
		return nil, false, err
	}
	if status != nfs3OK {
		return nil, false, statusError("READ", "", status)
	}
	if _, _, err := decodeOptionalFattr3(r); err != nil {
		return nil, false, fmt.Errorf("READ: read post-op attrs: %w", err)
	}

	var resultCount uint32
	if err := binary.Read(r, binary.BigEndian, &resultCount); err != nil {
		return nil, false, fmt.Errorf("READ: read count: %w", err)
	}
	var eofFlag uint32
	if err := binary.Read(r, binary.BigEndian, &eofFlag); err != nil {
		return nil, false, fmt.Errorf("READ: read eof: %w", err)
	}
	payload, err := readOpaque(r)
	if err != nil {
		return nil, false, fmt.Errorf("READ: read data: %w", err)
	}
	if uint32(len(payload)) > resultCount {
		payload = payload[:resultCount]
	}
	return payload, eofFlag != 0, nil
}

// write issues one NFSv3 WRITE call with FILE_SYNC stability, RFC 1813
// §3.3.7. Every Pwrite is synchronous; writes are never cached or batched.
func write(t *transport, handle []byte, offset uint64, data []byte) (int, error) {
	const stableFileSync = 2

	var args bytes.Buffer
	writeOpaque(&args, handle)
	binary.Write(&args, binary.BigEndian, offset)
	binary.Write(&args, binary.BigEndian, uint32(len(data)))
	binary.Write(&args, binary.BigEndian, uint32(stableFileSync))
	writeOpaque(&args, data)

	result, err := t.call(nfsProgram, nfsVersion, nfsProcWrite, args.Bytes())
	if err != nil {
		return 0, fmt.Errorf("WRITE: %w", err)
	}

	r := bytes.NewReader(result)
	status, err := readStatus(r)
	if err != nil {
		return 0, err
	}
	if status != nfs3OK {
		return 0, statusError("WRITE", "", status)
	}

	// wcc_data (pre+post op attrs), skip: before uint32 bool union.
	if _, err := skipWccData(r); err != nil {
		return 0, fmt.Errorf("WRITE: skip wcc_data: %w", err)
	}

	var written uint32
	if err := binary.Read(r, binary.BigEndian, &written); err != nil {
		return 0, fmt.Errorf("WRITE: read count: %w", err)
	}
	return int(written), nil
}

func readStatus(r *bytes.Reader) (uint32, error) {
	var status uint32
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

func statusError(op, name string, status uint32) error {
	if name != "" {
		return fmt.Errorf("%s %s: nfs status %d", op, name, status)
	}
	return fmt.Errorf("%s: nfs status %d", op, status)
}

// skipWccData consumes a wcc_data (pre_op_attr followed by post_op_attr)
// without retaining it; callers here only need the write count that follows.
func skipWccData(r *bytes.Reader) (bool, error) {
	var prePresent uint32
	if err := binary.Read(r, binary.BigEndian, &prePresent); err != nil {
		return false, err
	}
	if prePresent != 0 {
		// wcc_attr: size(8) + mtime(8) + ctime(8) = 24 bytes
		if _, err := r.Seek(24, 1); err != nil {
			return false, err
		}
	}
	_, present, err := decodeOptionalFattr3(r)
	return present, err
}
