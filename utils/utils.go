package utils

import (
	"encoding/json"
	"math/rand"
	"reflect"
)

// ContainsString returns true iff the provided string slice hay contains
// string needle.
func ContainsString(hay []string, needle string) bool {
	for _, str := range hay {
		if str == needle {
			return true
		}
	}
	return false
}

// DedupStrings returns the input with duplicates removed, first occurrence
// order preserved.
func DedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := []string{}
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// StringSlicesContainSameElements returns true iff both slices contain the
// same elements regardless of order and multiplicity of appearance.
func StringSlicesContainSameElements(a []string, b []string) bool {
	ma := make(map[string]bool, len(a))
	mb := make(map[string]bool, len(b))
	for _, s := range a {
		ma[s] = true
	}
	for _, s := range b {
		mb[s] = true
	}
	return reflect.DeepEqual(ma, mb)
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// RandomAlphabetString generates a random lower case string of length n.
func RandomAlphabetString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// AreJSONsEqual compares two JSON strings structurally, ignoring key order.
func AreJSONsEqual(a string, b string) (bool, error) {
	var ja, jb interface{}
	if err := json.Unmarshal([]byte(a), &ja); err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(b), &jb); err != nil {
		return false, err
	}
	return reflect.DeepEqual(ja, jb), nil
}
