package nfsv3

import (
	"bytes"
	"encoding/binary"
	"time"
)

// fattr3 is the NFSv3 file attribute structure (RFC 1813 §2.3.1), decoded by
// hand field-by-field rather than via reflection — the union-shaped
// wcc_data/post_op_attr wrappers around it don't map onto simple struct
// tags.
type fattr3 struct {
	Type   uint32
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   [2]uint32
	Fsid   uint64
	Fileid uint64
	Atime  nfstime3
	Mtime  nfstime3
	Ctime  nfstime3
}

type nfstime3 struct {
	Seconds  uint32
	Nseconds uint32
}

func (t nfstime3) toTime() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Nseconds))
}

// NFS file types (RFC 1813 §2.5).
const (
	nf3Reg = 1
	nf3Dir = 2
)

func decodeFattr3(r *bytes.Reader) (fattr3, error) {
	var a fattr3
	fields := []any{
		&a.Type, &a.Mode, &a.Nlink, &a.UID, &a.GID,
		&a.Size, &a.Used,
		&a.Rdev[0], &a.Rdev[1],
		&a.Fsid, &a.Fileid,
		&a.Atime.Seconds, &a.Atime.Nseconds,
		&a.Mtime.Seconds, &a.Mtime.Nseconds,
		&a.Ctime.Seconds, &a.Ctime.Nseconds,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return fattr3{}, err
		}
	}
	return a, nil
}

// decodeOptionalFattr3 decodes a post_op_attr: a 4-byte bool flag followed
// by the fattr3 if present.
func decodeOptionalFattr3(r *bytes.Reader) (fattr3, bool, error) {
	var present uint32
	if err := binary.Read(r, binary.BigEndian, &present); err != nil {
		return fattr3{}, false, err
	}
	if present == 0 {
		return fattr3{}, false, nil
	}
	a, err := decodeFattr3(r)
	return a, err == nil, err
}
