package fstree

import (
	"archive/tar"
	"fmt"
	"io"
	"sort"
	"time"
)

// TarOptions controls ownership and timestamps of archive entries.
type TarOptions struct {
	UID, GID int
	ModTime  time.Time
}

// WriteTar writes t as a tar stream, directories before their contents, in
// name order, so the archive is reproducible.
func WriteTar(w io.Writer, t Template, opts TarOptions) error {
	if opts.ModTime.IsZero() {
		opts.ModTime = time.Unix(0, 0)
	}
	tw := tar.NewWriter(w)
	if err := writeTar(tw, t, "", opts); err != nil {
		return err
	}
	return tw.Close()
}

func writeTar(tw *tar.Writer, t Template, prefix string, opts TarOptions) error {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := t[name]
		p := prefix + name
		if e.IsDir() {
			hdr := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     p + "/",
				Mode:     0o755,
				Uid:      opts.UID,
				Gid:      opts.GID,
				ModTime:  opts.ModTime,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("fstree: tar header %s: %w", p, err)
			}
			if err := writeTar(tw, e.Dir, p+"/", opts); err != nil {
				return err
			}
			continue
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     p,
			Mode:     0o644,
			Size:     int64(len(e.Contents)),
			Uid:      opts.UID,
			Gid:      opts.GID,
			ModTime:  opts.ModTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("fstree: tar header %s: %w", p, err)
		}
		if _, err := io.WriteString(tw, e.Contents); err != nil {
			return fmt.Errorf("fstree: tar body %s: %w", p, err)
		}
	}
	return nil
}
