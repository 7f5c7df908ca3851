// Package jsonld adapts github.com/piprate/json-gold to a fixed
// compaction/canonicalization surface, with an embedded offline cache
// for the well-known contexts (ActivityStreams, security/v1,
// identity/v1, and this instance's own extension context).
package jsonld

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/piprate/json-gold/ld"
)

//go:embed contexts/activitystreams.jsonld
var activityStreamsContext []byte

//go:embed contexts/security-v1.jsonld
var securityV1Context []byte

//go:embed contexts/identity-v1.jsonld
var identityV1Context []byte

//go:embed contexts/apforge-v1.jsonld
var apforgeV1Context []byte

const (
	ActivityStreamsIRI = "https://www.w3.org/ns/activitystreams"
	SecurityV1IRI      = "https://w3id.org/security/v1"
	IdentityV1IRI      = "https://w3id.org/identity/v1"
	ApforgeV1IRI       = "https://apforge.example/ns/v1"
)

// DefaultContexts is the fixed array of contexts compaction targets.
var DefaultContexts = []interface{}{ActivityStreamsIRI, SecurityV1IRI, ApforgeV1IRI}

// Processor wraps a json-gold JsonLdProcessor with an embedded
// well-known-context cache so that compacting or canonicalizing an
// ActivityPub document never touches the network for those contexts.
type Processor struct {
	proc    *ld.JsonLdProcessor
	loader  *ld.CachingDocumentLoader
	options *ld.JsonLdOptions
}

// New constructs a Processor with the embedded contexts pre-seeded into
// the document loader's cache.
func New() (*Processor, error) {
	underlying := ld.NewDefaultDocumentLoader(nil)
	caching := ld.NewCachingDocumentLoader(underlying)

	seeds := map[string][]byte{
		ActivityStreamsIRI: activityStreamsContext,
		SecurityV1IRI:      securityV1Context,
		IdentityV1IRI:      identityV1Context,
		ApforgeV1IRI:       apforgeV1Context,
	}

	for iri, raw := range seeds {
		doc, err := ld.DocumentFromReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing embedded context %s: %w", iri, err)
		}
		caching.AddDocument(iri, doc)
	}

	options := ld.NewJsonLdOptions("")
	options.DocumentLoader = caching

	return &Processor{
		proc:    ld.NewJsonLdProcessor(),
		loader:  caching,
		options: options,
	}, nil
}

// Compact rewrites doc against the fixed context array (or an explicit
// context when non-nil) and guarantees string-valued "id" and "type" on
// the result.
func (p *Processor) Compact(doc map[string]interface{}, context interface{}) (map[string]interface{}, error) {
	if context == nil {
		context = map[string]interface{}{"@context": DefaultContexts}
	}

	// Documents arriving without @context are read as plain
	// ActivityStreams, the convention most AP servers follow.
	if _, ok := doc["@context"]; !ok {
		cp := make(map[string]interface{}, len(doc)+1)
		for k, v := range doc {
			cp[k] = v
		}
		cp["@context"] = DefaultContexts
		doc = cp
	}

	compacted, err := p.proc.Compact(doc, context, p.options)
	if err != nil {
		return nil, apforgeerr.BadRequest("compacting json-ld document", err)
	}

	if err := ensureStringIdAndType(compacted); err != nil {
		return nil, apforgeerr.BadRequest("document missing id/type after compaction", err)
	}

	return compacted, nil
}

// Expand rewrites doc into its fully expanded form.
func (p *Processor) Expand(doc map[string]interface{}) ([]interface{}, error) {
	expanded, err := p.proc.Expand(doc, p.options)
	if err != nil {
		return nil, apforgeerr.BadRequest("expanding json-ld document", err)
	}
	return expanded, nil
}

// Canonicalize produces the URDNA2015 n-quads serialization of doc. The
// outbox worker calls it to check an activity before delivery; the HTTP
// signature covers the original JSON body, not this serialization.
func (p *Processor) Canonicalize(doc map[string]interface{}) (string, error) {
	opts := ld.NewJsonLdOptions("")
	opts.DocumentLoader = p.loader
	opts.Format = "application/n-quads"
	opts.Algorithm = "URDNA2015"

	normalized, err := p.proc.Normalize(doc, opts)
	if err != nil {
		return "", apforgeerr.Internal("canonicalizing json-ld document", err)
	}

	nquads, ok := normalized.(string)
	if !ok {
		return "", apforgeerr.Internal("unexpected normalize result type", nil)
	}
	return nquads, nil
}

func ensureStringIdAndType(doc map[string]interface{}) error {
	if v, present := doc["id"]; present {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("id is not a string")
		}
	}

	switch v := doc["type"].(type) {
	case string:
		return nil
	case []interface{}:
		if len(v) == 0 {
			return fmt.Errorf("type is an empty array")
		}
		s, ok := v[0].(string)
		if !ok {
			return fmt.Errorf("type array does not contain a string")
		}
		doc["type"] = s
		return nil
	default:
		return fmt.Errorf("type missing or not a string")
	}
}
