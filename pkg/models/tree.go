package models

import "path"

// CountNodes returns the total number of nodes in the forest, including
// the roots themselves.
func CountNodes(nodes []TreeNode) int {
	count := 0
	for i := range nodes {
		count++
		if nodes[i].Children != nil {
			count += CountNodes(*nodes[i].Children)
		}
	}
	return count
}

// Flatten returns the slash-joined relative paths of every node in the
// forest, depth first. The prefix is prepended to each path; pass "" for
// paths relative to the forest root.
func Flatten(nodes []TreeNode, prefix string) []string {
	var paths []string
	for i := range nodes {
		p := nodes[i].Name
		if prefix != "" {
			p = path.Join(prefix, nodes[i].Name)
		}
		paths = append(paths, p)
		if nodes[i].Children != nil {
			paths = append(paths, Flatten(*nodes[i].Children, p)...)
		}
	}
	return paths
}

// FindByPath locates a node by its slash-joined relative path, as produced
// by Flatten. Returns nil when no node matches.
func FindByPath(nodes []TreeNode, target string) *TreeNode {
	for i := range nodes {
		if nodes[i].Name == target {
			return &nodes[i]
		}
		rest, found := childPath(target, nodes[i].Name)
		if found && nodes[i].Children != nil {
			if n := FindByPath(*nodes[i].Children, rest); n != nil {
				return n
			}
		}
	}
	return nil
}

func childPath(target, name string) (string, bool) {
	if len(target) > len(name) && target[:len(name)] == name && target[len(name)] == '/' {
		return target[len(name)+1:], true
	}
	return "", false
}
