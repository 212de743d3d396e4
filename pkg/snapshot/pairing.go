package snapshot

import "sort"

// pairNodeID derives a deterministic vpc pseudo-node id from two member
// leaf node ids. It is order-independent — pairNodeID(a,b) == pairNodeID(b,a)
// — since the two members of a vpc domain are read from the controller in
// no particular order (§3 Node.nodeId = f(leafA, leafB), invariant 7).
func pairNodeID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return "vpc-" + ids[0] + "-" + ids[1]
}
