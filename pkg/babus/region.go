package babus

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// regionOptions configure opening or creating one mapped backing file.
type regionOptions struct {
	// path of the backing file. Empty means an anonymous mapping.
	path string

	// size of the region in bytes. Files are truncated to this size on
	// create; existing files are mapped at this size.
	size int64

	// create permits creating the backing file if it is absent.
	create bool

	// truncateOnCreate sizes a freshly created file. Always wanted for
	// bus objects; exposed so tests can exercise the degenerate case.
	truncateOnCreate bool
}

// region owns one shared read-write mapping. Multiple processes observe
// the same bytes via independent regions over the same backing file.
//
// The region exclusively owns the mapped bytes within this process;
// destroying it invalidates every pointer derived from the mapping. The
// shared object inside is unaffected: only deleting the backing file
// destroys it.
type region struct {
	data    []byte
	path    string
	created bool
}

// openRegion opens (creating if permitted and absent) the backing file,
// sizes it, maps it shared read-write, and closes the descriptor; the
// mapping keeps the file alive. The returned region reports whether this
// call freshly created the file, in which case the caller is responsible
// for placement-initializing the object header before publishing it.
//
// The check-then-create sequence uses O_EXCL: when two processes race on a
// fresh path exactly one observes created=true; the loser opens the
// winner's file.
func openRegion(opts regionOptions) (*region, error) {
	if opts.size <= 0 {
		return nil, errors.New("babus: region size must be positive")
	}

	if opts.path == "" {
		return openAnonymousRegion(opts.size)
	}

	created := false

	fd, err := unix.Open(opts.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if !errors.Is(err, unix.ENOENT) || !opts.create {
			return nil, fmt.Errorf("open %s: %w", opts.path, err)
		}

		fd, err = unix.Open(opts.path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o666)
		if err != nil {
			if errors.Is(err, unix.EEXIST) {
				// Lost the create race; the other process's file serves.
				return openRegion(regionOptions{
					path:             opts.path,
					size:             opts.size,
					create:           false,
					truncateOnCreate: opts.truncateOnCreate,
				})
			}

			return nil, fmt.Errorf("create %s: %w", opts.path, err)
		}

		created = true

		if opts.truncateOnCreate {
			truncErr := unix.Ftruncate(fd, opts.size)
			if truncErr != nil {
				_ = unix.Close(fd)

				return nil, fmt.Errorf("truncate %s: %w", opts.path, truncErr)
			}
		}
	}

	data, err := unix.Mmap(fd, 0, int(opts.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("mmap %s: %w", opts.path, err)
	}

	closeErr := unix.Close(fd)
	if closeErr != nil {
		_ = unix.Munmap(data)

		return nil, fmt.Errorf("close %s: %w", opts.path, closeErr)
	}

	return &region{data: data, path: opts.path, created: created}, nil
}

// openAnonymousRegion maps a file-less shared region. It is always
// "created" (there is nobody else to have initialized it). Shared so that
// forked children inherit the same pages; used by tests and benchmarks.
func openAnonymousRegion(size int64) (*region, error) {
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous: %w", err)
	}

	return &region{data: data, created: true}, nil
}

// close unmaps the region. Idempotent.
func (r *region) close() error {
	if r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	r.data = nil

	if err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	return nil
}
