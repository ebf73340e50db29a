package ros

import (
	"os"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

const defaultMasterURI = "http://localhost:11311"

// remapToken is one "key:=value" command-line argument. ROS overloads
// this single syntax for three purposes distinguished by the key's
// prefix: "__name" style special values, "_name" style private
// parameters to set on the master, and plain topic/service remappings
// (which this package doesn't otherwise act on but still parses so they
// don't leak into the special/param maps).
type remapToken struct {
	key   string
	value string
}

// parseRemapArgs splits args into remap tokens and the remaining plain
// arguments, mirroring processArguments in the sibling rosgo forks.
func parseRemapArgs(args []string) (specials map[string]string, params map[string]string, rest []string) {
	specials = make(map[string]string)
	params = make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, ":=", 2)
		if len(parts) != 2 {
			rest = append(rest, arg)
			continue
		}
		key, value := parts[0], parts[1]
		switch {
		case strings.HasPrefix(key, "__"):
			specials[key] = value
		case strings.HasPrefix(key, "_"):
			params[key[1:]] = value
		default:
			rest = append(rest, arg)
		}
	}
	return specials, params, rest
}

// nodeArgs is the resolved node identity: name,
// namespace, master URI and hostname, plus any "_param:=value" tokens to
// push to the master as this node's private parameters once it starts.
type nodeArgs struct {
	name          string
	namespace     string
	qualifiedName string
	masterURI     string
	hostname      string
	params        map[string]interface{}
}

// resolveArgs resolves each value by precedence: CLI remap token,
// then environment variable, then default/caller-supplied value.
func resolveArgs(defaultName string, args []string) (*nodeArgs, error) {
	specials, rawParams, _ := parseRemapArgs(args)

	name := defaultName
	if v, ok := specials["__name"]; ok {
		name = v
	}
	if strings.Contains(name, "/") {
		return nil, errNodeNameHasSlash
	}

	namespace := os.Getenv("ROS_NAMESPACE")
	if v, ok := specials["__ns"]; ok {
		namespace = v
	}
	namespace = normalizeNamespace(namespace)

	masterURI := defaultMasterURI
	if v := os.Getenv("ROS_MASTER_URI"); v != "" {
		masterURI = v
	}
	if v, ok := specials["__master"]; ok {
		masterURI = v
	}

	hostname := os.Getenv("ROS_HOSTNAME")
	if hostname == "" {
		hostname = os.Getenv("ROS_IP")
	}
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		} else {
			hostname = "localhost"
		}
	}
	if v, ok := specials["__hostname"]; ok {
		hostname = v
	} else if v, ok := specials["__ip"]; ok {
		hostname = v
	}

	params := make(map[string]interface{}, len(rawParams))
	for k, v := range rawParams {
		params[k] = coerceParamToken(v)
	}

	return &nodeArgs{
		name:          name,
		namespace:     namespace,
		qualifiedName: qualifyName(namespace, name),
		masterURI:     masterURI,
		hostname:      hostname,
		params:        params,
	}, nil
}

// normalizeNamespace ensures namespace begins with "/".
func normalizeNamespace(ns string) string {
	if ns == "" {
		return "/"
	}
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	return ns
}

// qualifyName joins namespace and name into the fully qualified node
// name, trimming any trailing slash from namespace first.
func qualifyName(namespace, name string) string {
	return strings.TrimSuffix(namespace, "/") + "/" + name
}

// coerceParamToken parses a "_name:=value" token's value the way
// roslaunch does: try bool, then int, then float, then fall back to the
// raw string. jsonparser gives us fast, allocation-light type sniffing
// without pulling in encoding/json for single scalar tokens.
func coerceParamToken(raw string) interface{} {
	b := []byte(raw)
	if v, err := jsonparser.ParseBoolean(b); err == nil {
		return v
	}
	if v, err := jsonparser.ParseInt(b); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return raw
}

var errNodeNameHasSlash = nodeArgError("node name must not contain '/'")

type nodeArgError string

func (e nodeArgError) Error() string { return string(e) }
