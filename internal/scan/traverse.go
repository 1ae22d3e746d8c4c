package scan

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/standardbeagle/cryptoscan/internal/dispatch"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

// headerPeekBytes bounds how much of an extensionless file is read to
// magic-sniff it as a candidate, mirroring the 4KB PEM-sniff window.
const headerPeekBytes = 4096

// candidate is one enumerated file awaiting the execution phase.
type candidate struct {
	path string
	size int64
}

// enumerate builds the candidate file list for root under opt. If root is
// itself a regular file it is the sole candidate, dispatch rules included
// or not: a directly named file is always scanned.
func enumerate(root string, opt types.ScanOptions) ([]candidate, types.ScanOptions, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, opt, err
	}
	if info.Mode().IsRegular() {
		return []candidate{{path: root, size: info.Size()}}, opt, nil
	}

	opt = promoteProfile(root, opt)

	var out []candidate
	for _, r := range rootsFor(root, opt, dirExists) {
		walkRoot(r, opt, &out)
	}
	return out, opt, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func walkRoot(root string, opt types.ScanOptions, out *[]candidate) {
	info, err := os.Lstat(root)
	if err != nil {
		return
	}
	if info.Mode().IsRegular() {
		if isCandidatePath(root, opt) {
			*out = append(*out, candidate{path: root, size: info.Size()})
		}
		return
	}
	if !info.IsDir() {
		return
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != root && d.IsDir() {
			if shouldSkipByProfile(path, opt) {
				return fs.SkipDir
			}
			if !opt.Recurse {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if shouldSkipByProfile(filepath.Dir(path), opt) {
			return nil
		}
		if !isCandidatePath(path, opt) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		*out = append(*out, candidate{path: path, size: fi.Size()})
		return nil
	})
}

// isCandidatePath applies §4.10's candidate test: dispatcher extension
// match, or a magic-sniffed peek for files the extension alone doesn't
// mark, then the include/exclude glob filters.
func isCandidatePath(path string, opt types.ScanOptions) bool {
	isCandidate := dispatch.HasCandidateExtension(path)
	if !isCandidate {
		if peek, err := readHeader(path, headerPeekBytes); err == nil {
			isCandidate = dispatch.HasCandidateMagic(peek)
		}
	}
	if !isCandidate {
		return false
	}

	if len(opt.IncludeGlobs) > 0 && !globMatchesAny(path, opt.IncludeGlobs) {
		return false
	}
	if len(opt.ExcludeGlobs) > 0 && globMatchesAny(path, opt.ExcludeGlobs) {
		return false
	}
	return true
}

func readHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}
