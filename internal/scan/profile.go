// Package scan implements the traversal and worker-pool scheduler (C10):
// building the candidate file list for a root path under a ScanProfile, then
// fanning it out across a worker pool that reports detections and progress
// through a single serialized callback pair.
package scan

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

// systemDirPrefixes are skipped whenever a profile excludes system
// directories: pseudo-filesystems, package caches, and other paths that are
// never a source of application secrets but are expensive to walk.
var systemDirPrefixes = []string{
	"/proc", "/sys", "/dev", "/run", "/snap",
	"/var/lib/docker", "/var/lib/flatpak", "/var/cache", "/var/log",
	"/tmp", "/var/tmp", "/lost+found", "/usr/lib", "/lib/",
}

// institutionExcludeGlobs additionally narrows InstitutionStrict scans past
// systemDirPrefixes: build-tool caches, IDE state, and toolchain install
// trees that are large, numerous, and essentially never hold the kind of
// source or key material this scanner looks for.
// Trailing "/**" (rather than "/*") is deliberate: doublestar's single "*"
// doesn't cross a path separator, but these trees are excluded to arbitrary
// depth, not just one level down.
var institutionExcludeGlobs = []string{
	"/usr/lib/aarch64-linux-gnu/**", "/usr/lib/x86_64-linux-gnu/**",
	"/lib/aarch64-linux-gnu/**", "/lib/x86_64-linux-gnu/**",
	"/usr/lib/python3/dist-packages/**", "/usr/lib/node_modules/**", "/usr/lib/gcc/**",
	"/usr/i686-w64-mingw32/**", "/usr/x86_64-w64-mingw32/**",
	"/usr/include/**", "/usr/share/doc/**", "/usr/share/locale/**", "/usr/share/man/**",
	"/usr/share/icons/**", "/usr/src/**",
	"/opt/cuda/**", "/usr/local/cuda/**", "/usr/local/share/**", "/usr/local/include/**",
	"/home/*/.vscode/**", "/home/*/.vscode-server/**", "/home/*/.cache/**",
	"/home/*/.cache/vmware/**", "/home/*/.config/Code/**", "/home/*/.local/share/Code/**",
	"/home/*/.npm/**", "/home/*/.nvm/**", "/home/*/.gradle/**", "/home/*/.m2/repository/**",
	"/home/*/.cargo/**", "/home/*/.rustup/**", "/home/*/.android/**", "/home/*/.conda/**",
	"/root/.vscode/**", "/root/.vscode-server/**", "/root/.cache/**",
	"/root/.config/Code/**", "/root/.local/share/Code/**",
}

// preferredRootDirs is the set of roots an InstitutionStrict scan of "/"
// walks instead of the whole filesystem.
var preferredRootDirs = []string{
	"/home", "/root", "/etc", "/opt", "/srv", "/var/www", "/var/lib/tomcat",
	"/mnt", "/media", "/data", "/usr/local",
}

// promoteProfile applies the root="/" + Default => InstitutionStrict
// promotion: scanning the whole filesystem under the default profile is
// almost always a mistake, so it is silently upgraded to the strict
// profile, which also drops archive limits to zero (unbounded) since a
// filesystem-wide sweep should not silently skip oversized jars.
func promoteProfile(root string, opt types.ScanOptions) types.ScanOptions {
	if root == "/" && opt.Profile == types.ProfileDefault {
		opt.Profile = types.ProfileInstitutionStrict
		opt.ExcludeSystemDirs = true
		opt.ExcludeDevDirs = true
		opt.ArchiveLimits = types.ArchiveLimits{}
	}
	return opt
}

// rootsFor returns the directories to walk for root under opt: the
// preferred-roots list when an InstitutionStrict scan targets "/", or root
// itself otherwise.
func rootsFor(root string, opt types.ScanOptions, exists func(string) bool) []string {
	if opt.Profile == types.ProfileInstitutionStrict && root == "/" {
		var out []string
		for _, r := range preferredRootDirs {
			if exists(r) {
				out = append(out, r)
			}
		}
		if len(out) == 0 {
			return []string{"/"}
		}
		return out
	}
	return []string{root}
}

// shouldSkipByProfile reports whether path should be excluded entirely
// (and, for a directory, not recursed into) under opt.
func shouldSkipByProfile(path string, opt types.ScanOptions) bool {
	if path == "/" {
		return false
	}
	strict := opt.Profile == types.ProfileInstitutionStrict
	if strict || opt.ExcludeSystemDirs {
		for _, prefix := range systemDirPrefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	if strict && globMatchesAny(path, institutionExcludeGlobs) {
		return true
	}
	if len(opt.ExcludeGlobs) > 0 && globMatchesAny(path, opt.ExcludeGlobs) {
		return true
	}
	return false
}

func globMatchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}
