package numindex

// FileIterator is a finite sequence of file paths.
type FileIterator struct {
	paths  []string
	pos    int
	closed bool
}

func newFileIterator(paths ...string) *FileIterator {
	return &FileIterator{paths: paths}
}

// Next returns the next path.
func (it *FileIterator) Next() (string, bool) {
	if it.closed || it.pos >= len(it.paths) {
		return "", false
	}
	p := it.paths[it.pos]
	it.pos++
	return p, true
}

// Close ends the iteration.
func (it *FileIterator) Close() error {
	it.closed = true
	return nil
}
