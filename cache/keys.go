package cache

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Khoshtrip/backend/types"
)

const DefaultNamespace = "view_cache"

// KeyBuilder derives cache keys for view reads. The view name stays readable in
// front of the digest so that invalidation patterns can select it.
type KeyBuilder struct {
	namespace string
	excluded  map[string]struct{}
}

func NewKeyBuilder(namespace string, excludedParams []string) *KeyBuilder {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	excluded := make(map[string]struct{}, len(excludedParams))
	for _, name := range excludedParams {
		excluded[name] = struct{}{}
	}

	return &KeyBuilder{
		namespace: namespace,
		excluded:  excluded,
	}
}

func (kb *KeyBuilder) Namespace() string {
	return kb.namespace
}

// NamespacePattern matches every key the builder can produce.
func (kb *KeyBuilder) NamespacePattern() string {
	return kb.namespace + ":*"
}

// keyIdentity is the request identity hashed into a key. It is encoded with
// msgpack so every field and list element is length delimited: no value can
// spell out another field.
type keyIdentity struct {
	View      string       `msgpack:"v"`
	Path      string       `msgpack:"p"`
	Query     []queryParam `msgpack:"q"`
	User      string       `msgpack:"u"`
	Args      []string     `msgpack:"a"`
	NamedArgs [][2]string  `msgpack:"n"`
}

type queryParam struct {
	Name   string   `msgpack:"k"`
	Values []string `msgpack:"v"`
}

// Build returns <namespace>:<view>:<md5 of the request identity>.
func (kb *KeyBuilder) Build(view string, req types.RequestDescriptor) string {
	identity := keyIdentity{
		View: view,
		Path: normalizePath(req.Path),
	}

	if len(req.Args) > 0 {
		identity.Args = req.Args
	}

	for _, name := range req.QueryNames() {
		if _, skip := kb.excluded[name]; skip {
			continue
		}
		identity.Query = append(identity.Query, queryParam{Name: name, Values: req.Query[name]})
	}

	if req.Authenticated() {
		identity.User = req.UserID
	}

	if len(req.NamedArgs) > 0 {
		names := make([]string, 0, len(req.NamedArgs))
		for name := range req.NamedArgs {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			identity.NamedArgs = append(identity.NamedArgs, [2]string{name, req.NamedArgs[name]})
		}
	}

	return kb.namespace + ":" + view + ":" + digest(identity)
}

func digest(identity keyIdentity) string {
	// Strings and string slices always encode.
	encoded, _ := msgpack.Marshal(&identity)

	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
