package fsutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const tailBlockSize = 8 * 1024

// ReadLastLines returns up to n complete lines from the end of path, oldest
// first. A partial trailing line (writer crashed mid-write) is ignored.
func ReadLastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	offset := size
	for offset > 0 {
		block := int64(tailBlockSize)
		if offset < block {
			block = offset
		}
		offset -= block
		chunk := make([]byte, block)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
		if bytes.Count(buf, []byte{'\n'}) > n {
			break
		}
	}

	// Drop anything after the last newline (incomplete trailing line).
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		buf = buf[:i]
	} else {
		return nil, nil
	}

	lines := bytes.Split(buf, []byte{'\n'})
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) > 0 {
			out = append(out, string(l))
		}
	}
	return out, nil
}

const followPollInterval = 200 * time.Millisecond

// Follow streams complete lines appended to path onto lineCh until ctx is
// done. It starts at the current end of file. Partial lines are buffered
// until their newline arrives. fsnotify wakes the reader early; a 200 ms poll
// covers filesystems where watch events are unreliable.
func Follow(ctx context.Context, path string, lineCh chan<- string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	var watchCh chan fsnotify.Event
	if watcher, werr := fsnotify.NewWatcher(); werr == nil {
		defer watcher.Close()
		if watcher.Add(filepath.Dir(path)) == nil {
			watchCh = make(chan fsnotify.Event, 16)
			go func() {
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case watchCh <- ev:
						default:
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}
	}

	var carry []byte
	readChunk := make([]byte, 64*1024)
	for {
		for {
			n, rerr := f.Read(readChunk)
			if n > 0 {
				carry = append(carry, readChunk[:n]...)
				for {
					i := bytes.IndexByte(carry, '\n')
					if i < 0 {
						break
					}
					line := string(carry[:i])
					carry = carry[i+1:]
					if line == "" {
						continue
					}
					select {
					case lineCh <- line:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			if rerr != nil {
				break
			}
			if n == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchCh:
		case <-time.After(followPollInterval):
		}
	}
}
