package scan

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cryptoscan/internal/patterns"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

func testRegistry(t *testing.T) *patterns.Registry {
	t.Helper()
	reg, err := patterns.LoadFile("../patterns/testdata/patterns.json")
	require.NoError(t, err)
	return reg
}

func TestEnumerateRegularFileIsSoleCandidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	files, _, err := enumerate(path, types.DefaultScanOptions())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].path)
}

func TestPromoteProfilePinsInstitutionStrictAndZeroesArchiveLimits(t *testing.T) {
	opt := types.DefaultScanOptions()
	opt.ArchiveLimits = types.ArchiveLimits{MaxEntries: 10, MaxEntryBytes: 1024, MaxTotalBytes: 4096}

	promoted := promoteProfile("/", opt)
	assert.Equal(t, types.ProfileInstitutionStrict, promoted.Profile)
	assert.Equal(t, types.ArchiveLimits{}, promoted.ArchiveLimits)

	unaffected := promoteProfile("/home/dev/project", opt)
	assert.Equal(t, types.ProfileDefault, unaffected.Profile)
	assert.Equal(t, opt.ArchiveLimits, unaffected.ArchiveLimits)
}

func TestPromoteProfileLeavesExplicitProfileAlone(t *testing.T) {
	opt := types.DefaultScanOptions()
	opt.Profile = types.ProfileDeveloperMax
	promoted := promoteProfile("/", opt)
	assert.Equal(t, types.ProfileDeveloperMax, promoted.Profile)
}

func TestEnumerateRecurseFindsNestedCandidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	nested := filepath.Join(dir, "sub", "id_rsa.key")
	require.NoError(t, os.WriteFile(nested, []byte("not actually a key"), 0o644))

	opt := types.DefaultScanOptions()
	files, _, err := enumerate(dir, opt)
	require.NoError(t, err)
	var found bool
	for _, c := range files {
		if c.path == nested {
			found = true
		}
	}
	assert.True(t, found, "expected recursive walk to find %s, got %+v", nested, files)
}

func TestEnumerateNonRecurseSkipsNestedCandidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	nested := filepath.Join(dir, "sub", "id_rsa.key")
	require.NoError(t, os.WriteFile(nested, []byte("not actually a key"), 0o644))
	top := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(top, []byte("not actually a key"), 0o644))

	opt := types.DefaultScanOptions()
	opt.Recurse = false
	files, _, err := enumerate(dir, opt)
	require.NoError(t, err)

	var paths []string
	for _, c := range files {
		paths = append(paths, c.path)
	}
	assert.Contains(t, paths, top)
	assert.NotContains(t, paths, nested)
}

func TestEnumerateSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.key")
	require.NoError(t, os.WriteFile(real, []byte("not actually a key"), 0o644))
	link := filepath.Join(dir, "link.key")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, _, err := enumerate(dir, types.DefaultScanOptions())
	require.NoError(t, err)
	var paths []string
	for _, c := range files {
		paths = append(paths, c.path)
	}
	assert.Contains(t, paths, real)
	assert.NotContains(t, paths, link)
}

func TestEnumerateExcludeSystemDirsSkipsProcLikePrefix(t *testing.T) {
	// shouldSkipByProfile is exercised directly: building a real /proc tree
	// in a temp dir isn't meaningful, since the prefix list names absolute
	// system paths.
	opt := types.DefaultScanOptions()
	opt.ExcludeSystemDirs = true
	assert.True(t, shouldSkipByProfile("/proc/1/environ", opt))
	assert.True(t, shouldSkipByProfile("/var/lib/docker/overlay2", opt))
	assert.False(t, shouldSkipByProfile("/home/dev/project", opt))
}

func TestEnumerateInstitutionStrictAppliesExcludeGlobs(t *testing.T) {
	opt := types.ScanOptions{Profile: types.ProfileInstitutionStrict, Recurse: true}
	assert.True(t, shouldSkipByProfile("/home/dev/.cache/pip/wheel.whl", opt))
	assert.True(t, shouldSkipByProfile("/usr/include/openssl/evp.h", opt))
	assert.False(t, shouldSkipByProfile("/home/dev/project/server.key", opt))
}

func TestIsCandidatePathIncludeGlobFilter(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.key")
	b := filepath.Join(dir, "b.key")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("x"), 0o644))

	opt := types.DefaultScanOptions()
	opt.IncludeGlobs = []string{filepath.Join(dir, "a.*")}
	assert.True(t, isCandidatePath(a, opt))
	assert.False(t, isCandidatePath(b, opt))
}

func TestIsCandidatePathExcludeGlobFilter(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.key")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))

	opt := types.DefaultScanOptions()
	opt.ExcludeGlobs = []string{filepath.Join(dir, "*.key")}
	assert.False(t, isCandidatePath(a, opt))
}

func TestIsCandidatePathRejectsNonCandidateExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some prose"), 0o644))
	assert.False(t, isCandidatePath(path, types.DefaultScanOptions()))
}

func TestIsCandidatePathSniffsELFMagicOnExtensionlessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mystery-binary")
	data := append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 60)...)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	assert.True(t, isCandidatePath(path, types.DefaultScanOptions()))
}

func TestWorkerCountIsClampedBetween2And32(t *testing.T) {
	n := workerCount()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 32)

	want := runtime.NumCPU() * 2
	if want > 32 {
		want = 32
	}
	if want < 2 {
		want = 2
	}
	assert.Equal(t, want, n)
}

// recordingCallbacks guards against overlapping on_detect/on_progress
// invocations: if callbacks were genuinely concurrent, inCallback would be
// observed true by a racing caller while another call is in flight.
type recordingCallbacks struct {
	mu         sync.Mutex
	inCallback bool
	reentered  bool
	detections []types.Detection
	progress   int
}

func (r *recordingCallbacks) enter() {
	r.mu.Lock()
	if r.inCallback {
		r.reentered = true
	}
	r.inCallback = true
	r.mu.Unlock()
}

func (r *recordingCallbacks) leave() {
	r.mu.Lock()
	r.inCallback = false
	r.mu.Unlock()
}

func (r *recordingCallbacks) onDetect(d types.Detection) {
	r.enter()
	r.detections = append(r.detections, d)
	r.leave()
}

func (r *recordingCallbacks) onProgress(string, int, int, int64, int64) {
	r.enter()
	r.progress++
	r.leave()
}

func TestScanPathSerializesCallbacksAndReportsProgressForEveryFile(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		name := filepath.Join(dir, "k"+string(rune('a'+i))+".key")
		require.NoError(t, os.WriteFile(name, []byte("not a real key"), 0o644))
	}

	rec := &recordingCallbacks{}
	err := ScanPath(dir, types.DefaultScanOptions(), testRegistry(t), rec.onDetect, rec.onProgress, nil)
	require.NoError(t, err)

	assert.False(t, rec.reentered, "on_detect/on_progress overlapped")
	assert.Equal(t, 12, rec.progress)
}

func TestScanPathCancellationStopsPromptly(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		name := filepath.Join(dir, "k"+string(rune('a'+i%26))+string(rune('0'+i/26))+".key")
		require.NoError(t, os.WriteFile(name, []byte("not a real key"), 0o644))
	}

	rec := &recordingCallbacks{}
	cancelled := func() bool { return true }
	err := ScanPath(dir, types.DefaultScanOptions(), testRegistry(t), rec.onDetect, rec.onProgress, cancelled)
	require.NoError(t, err)

	assert.LessOrEqual(t, rec.progress, workerCount())
}

func TestScanFileSingleEntryPoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(path, []byte("not a real key"), 0o644))

	dets, err := ScanFile(path, testRegistry(t), types.DefaultScanOptions())
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestScanFileUnreadablePathReturnsError(t *testing.T) {
	_, err := ScanFile(filepath.Join(t.TempDir(), "missing.key"), testRegistry(t), types.DefaultScanOptions())
	assert.Error(t, err)
}
