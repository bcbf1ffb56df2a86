package request

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire keys. These names are shared with independently versioned builds and
// must never change.
const (
	keyDryRun          = "dryRun"
	keyDoStrip         = "doStrip"
	keyUID             = "uid"
	keyTrash           = "trash"
	keyIncludes        = "includes"
	keyExcludes        = "excludes"
	keyBundleBlacklist = "bundleBlacklist"
	keyDirectories     = "directories"
	keyFiles           = "files"
	keyThin            = "thin"
	keyRoots           = "roots"

	keyRootPath          = "path"
	keyRootLanguages     = "languages"
	keyRootArchitectures = "architectures"
)

// ─── Encoding ────────────────────────────────────────────────────────────────

// Encode converts a request into its schema-free wire form. Absent optional
// fields are omitted; empty ones are written as empty lists.
func Encode(r *HelperRequest) *structpb.Struct {
	fields := map[string]*structpb.Value{
		keyDryRun:  structpb.NewBoolValue(r.DryRun),
		keyDoStrip: structpb.NewBoolValue(r.DoStrip),
		keyUID:     structpb.NewNumberValue(float64(r.UID)),
		keyTrash:   structpb.NewBoolValue(r.Trash),
	}
	putStrings(fields, keyIncludes, r.Includes)
	putStrings(fields, keyExcludes, r.Excludes)
	putStrings(fields, keyBundleBlacklist, r.BundleBlacklist.Sorted())
	putStrings(fields, keyDirectories, r.Directories.Sorted())
	putStrings(fields, keyFiles, r.Files)
	putStrings(fields, keyThin, r.Thin)

	if r.Roots != nil {
		roots := make([]*structpb.Value, 0, len(r.Roots))
		for _, root := range r.Roots {
			roots = append(roots, structpb.NewStructValue(&structpb.Struct{
				Fields: map[string]*structpb.Value{
					keyRootPath:          structpb.NewStringValue(root.Path),
					keyRootLanguages:     structpb.NewBoolValue(root.Languages),
					keyRootArchitectures: structpb.NewBoolValue(root.Architectures),
				},
			}))
		}
		fields[keyRoots] = structpb.NewListValue(&structpb.ListValue{Values: roots})
	}

	return &structpb.Struct{Fields: fields}
}

func putStrings(fields map[string]*structpb.Value, key string, values []string) {
	if values == nil {
		return
	}
	list := make([]*structpb.Value, 0, len(values))
	for _, v := range values {
		list = append(list, structpb.NewStringValue(v))
	}
	fields[key] = structpb.NewListValue(&structpb.ListValue{Values: list})
}

// Marshal encodes a request as protobuf binary.
func Marshal(r *HelperRequest) ([]byte, error) {
	return proto.Marshal(Encode(r))
}

// MarshalJSON encodes a request as protojson, the format of request files.
func MarshalJSON(r *HelperRequest) ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(Encode(r))
}

// ─── Decoding ────────────────────────────────────────────────────────────────

// Decode rebuilds a request from its wire form. Only the value kinds listed
// for each key are accepted; anything else leaves that field absent (or zero
// for the non-optional flags). Decode never fails and never panics.
func Decode(s *structpb.Struct) *HelperRequest {
	fields := s.GetFields()
	r := &HelperRequest{
		DryRun:  decodeBool(fields[keyDryRun]),
		DoStrip: decodeBool(fields[keyDoStrip]),
		UID:     decodeUID(fields[keyUID]),
		Trash:   decodeBool(fields[keyTrash]),

		Includes: decodeStrings(fields[keyIncludes]),
		Excludes: decodeStrings(fields[keyExcludes]),
		Files:    decodeStrings(fields[keyFiles]),
		Thin:     decodeStrings(fields[keyThin]),
		Roots:    decodeRoots(fields[keyRoots]),
	}
	if list := decodeStrings(fields[keyBundleBlacklist]); list != nil {
		r.BundleBlacklist = NewStringSet(list...)
	}
	if list := decodeStrings(fields[keyDirectories]); list != nil {
		r.Directories = NewStringSet(list...)
	}
	return r
}

// Unmarshal decodes protobuf binary. Bytes that are not a Struct are an
// error; type confusion inside a valid Struct is handled by Decode.
func Unmarshal(data []byte) (*HelperRequest, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return Decode(&s), nil
}

// UnmarshalJSON decodes a protojson request file.
func UnmarshalJSON(data []byte) (*HelperRequest, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode request json: %w", err)
	}
	return Decode(&s), nil
}

func decodeBool(v *structpb.Value) bool {
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	return ok && b.BoolValue
}

func decodeUID(v *structpb.Value) uint32 {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0
	}
	f := n.NumberValue
	if math.IsNaN(f) || f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0
	}
	return uint32(f)
}

// decodeStrings returns nil unless v is a list made only of strings.
func decodeStrings(v *structpb.Value) []string {
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok || list.ListValue == nil {
		return nil
	}
	out := make([]string, 0, len(list.ListValue.Values))
	for _, item := range list.ListValue.Values {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil
		}
		out = append(out, s.StringValue)
	}
	return out
}

// decodeRoots returns nil unless every entry is a well-formed root.
func decodeRoots(v *structpb.Value) []Root {
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok || list.ListValue == nil {
		return nil
	}
	out := make([]Root, 0, len(list.ListValue.Values))
	for _, item := range list.ListValue.Values {
		st, ok := item.GetKind().(*structpb.Value_StructValue)
		if !ok || st.StructValue == nil {
			return nil
		}
		f := st.StructValue.GetFields()
		path, ok := f[keyRootPath].GetKind().(*structpb.Value_StringValue)
		if !ok || path.StringValue == "" {
			return nil
		}
		root := Root{Path: path.StringValue}
		for key, dst := range map[string]*bool{
			keyRootLanguages:     &root.Languages,
			keyRootArchitectures: &root.Architectures,
		} {
			raw, present := f[key]
			if !present {
				continue
			}
			b, ok := raw.GetKind().(*structpb.Value_BoolValue)
			if !ok {
				return nil
			}
			*dst = b.BoolValue
		}
		out = append(out, root)
	}
	return out
}
