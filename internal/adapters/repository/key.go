package repository

import (
	"fmt"
	"net/url"
	"strings"
)

// Key addresses an entity by its chain of (kind, name) pairs.
type Key struct {
	Kind   string
	Name   string
	Parent *Key
}

// NameKey returns a complete key.
func NameKey(kind, name string, parent *Key) *Key {
	return &Key{Kind: kind, Name: name, Parent: parent}
}

// IncompleteKey returns a key whose name is assigned on put.
func IncompleteKey(kind string, parent *Key) *Key {
	return &Key{Kind: kind, Parent: parent}
}

// Incomplete reports whether the key still lacks a name.
func (k *Key) Incomplete() bool {
	return k.Name == ""
}

// Encode renders the key path as Kind:name segments joined by "/".
// Names are path-escaped so encoded keys sort and prefix-match by hierarchy.
func (k *Key) Encode() string {
	if k == nil {
		return ""
	}
	seg := k.Kind + ":" + url.PathEscape(k.Name)
	if k.Parent == nil {
		return seg
	}
	return k.Parent.Encode() + "/" + seg
}

func (k *Key) String() string { return k.Encode() }

// HasAncestor reports whether a is a strict ancestor of k.
func (k *Key) HasAncestor(a *Key) bool {
	if k == nil || a == nil {
		return false
	}
	return strings.HasPrefix(k.Encode(), a.Encode()+"/")
}

// Equal compares full paths.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.Encode() == o.Encode()
}

// ParseKey is the inverse of Encode.
func ParseKey(s string) (*Key, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	var k *Key
	for seg := range strings.SplitSeq(s, "/") {
		kind, escaped, ok := strings.Cut(seg, ":")
		if !ok || kind == "" || escaped == "" {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidKey, seg)
		}
		name, err := url.PathUnescape(escaped)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		k = NameKey(kind, name, k)
	}
	return k, nil
}
