package resolver

import (
	"os"
	"path/filepath"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/version"
)

// PackageRef names one resolved package version.
type PackageRef struct {
	Name    string
	Version *version.Version
}

// Resolved is the flattened result of a dependency tree: the install order
// and the merged content listing.
type Resolved struct {
	// Packages in install order: deepest dependencies first, the root last.
	// Each name+version pair appears exactly once; when a package occurs at
	// several depths, the occurrence closest to the root decides its slot.
	Packages []PackageRef

	Dirs  map[string]struct{}
	Files map[string]archive.FileHash
}

// Flatten turns a dependency tree into its install order and merged
// contents. Content disagreements between subtrees are fatal.
func Flatten(root *Node) (*Resolved, error) {
	resolved := &Resolved{}
	for depth := maxDepth(root); depth >= 0; depth-- {
		resolved.Packages = gatherPackages(root, depth, resolved.Packages)
	}

	var err error
	resolved.Dirs, resolved.Files, err = mergeContents(root)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func maxDepth(node *Node) int {
	depth := 0
	for _, c := range node.Children {
		if childDepth := maxDepth(c); childDepth >= depth {
			depth = childDepth + 1
		}
	}
	return depth
}

// gatherPackages appends the packages found at exactly the given depth.
// A package already gathered at a deeper level is removed first, so the
// shallower occurrence's position wins while the list stays duplicate-free.
func gatherPackages(node *Node, depth int, packages []PackageRef) []PackageRef {
	if depth > 0 {
		for _, c := range node.Children {
			packages = gatherPackages(c, depth-1, packages)
		}
		return packages
	}

	for i, p := range packages {
		if p.Name == node.Name && p.Version.Equals(node.Version) {
			packages = append(packages[:i], packages[i+1:]...)
			break
		}
	}

	return append(packages, PackageRef{Name: node.Name, Version: node.Version})
}

// mergeContents merges the content listings bottom-up. A node's own entries
// override anything its subtrees provide. Two subtrees providing the same
// file with different hashes, or a directory and a file under the same
// name, are conflicts.
func mergeContents(node *Node) (map[string]struct{}, map[string]archive.FileHash, error) {
	childDirs := make([]map[string]struct{}, len(node.Children))
	childFiles := make([]map[string]archive.FileHash, len(node.Children))

	for i, c := range node.Children {
		var err error
		childDirs[i], childFiles[i], err = mergeContents(c)
		if err != nil {
			return nil, nil, errors.Context(err, "in dependency of %s:%s", node.Name, node.Version)
		}
	}

	fileFrom := make(map[string]int)
	mergedFiles := make(map[string]archive.FileHash)

	for i, cf := range childFiles {
		c := node.Children[i]
		for name, hash := range cf {
			if _, ok := node.Files[name]; ok {
				continue
			}

			if existing, ok := mergedFiles[name]; ok {
				if existing == hash {
					continue
				}
				prev := node.Children[fileFrom[name]]
				return nil, nil, errors.New(errors.ErrCodeContentConflict,
					"cannot have both %s:%s and %s:%s as dependencies of %s:%s as both contain the file %q with different hashes (%s vs %s)",
					prev.Name, prev.Version, c.Name, c.Version, node.Name, node.Version, name, existing, hash)
			}

			mergedFiles[name] = hash
			fileFrom[name] = i
		}
	}

	for name, hash := range node.Files {
		mergedFiles[name] = hash
	}

	mergedDirs := make(map[string]struct{})
	dirFrom := make(map[string]int)

	for name := range node.Dirs {
		mergedDirs[name] = struct{}{}
	}
	for i, cd := range childDirs {
		for name := range cd {
			if _, ok := mergedDirs[name]; !ok {
				mergedDirs[name] = struct{}{}
				dirFrom[name] = i
			}
		}
	}

	for name := range mergedDirs {
		if _, ok := mergedFiles[name]; ok {
			dirNode, fileNode := node, node
			if i, ok := dirFrom[name]; ok {
				dirNode = node.Children[i]
			}
			if i, ok := fileFrom[name]; ok {
				fileNode = node.Children[i]
			}
			return nil, nil, errors.New(errors.ErrCodeContentConflict,
				"cannot have both a directory from %s:%s and a file from %s:%s named %q in %s:%s",
				dirNode.Name, dirNode.Version, fileNode.Name, fileNode.Version, name, node.Name, node.Version)
		}
	}

	return mergedDirs, mergedFiles, nil
}

// CheckOverwrite reports every entry of the merged contents that would
// collide with something already in targetDir, through report. It returns
// true when at least one collision was found.
func CheckOverwrite(targetDir string, resolved *Resolved, report func(format string, args ...any)) bool {
	found := false

	for name := range resolved.Dirs {
		fi, err := os.Stat(filepath.Join(targetDir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			report("when checking directory %q: %v", name, err)
			found = true
		} else if !fi.IsDir() {
			report("refusing to overwrite file with directory: %q", name)
			found = true
		}
	}

	for name := range resolved.Files {
		fi, err := os.Stat(filepath.Join(targetDir, name))
		if os.IsNotExist(err) {
			continue
		}
		found = true
		if err != nil {
			report("when checking file %q: %v", name, err)
		} else if fi.IsDir() {
			report("refusing to overwrite directory with file: %q", name)
		} else {
			report("refusing to overwrite file: %q", name)
		}
	}

	return found
}
