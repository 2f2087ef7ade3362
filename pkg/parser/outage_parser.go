package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"transithub/pkg/types"

	"github.com/clbanning/mxj/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OutageParser converts XML outage feeds (e.g. <NYCOutages><outage>…</outage></NYCOutages>)
// into JSON records so XML and JSON payloads reach consumers in the same shape.
type OutageParser struct {
	tracer trace.Tracer
}

func NewOutageParser() *OutageParser {
	return &OutageParser{
		tracer: otel.Tracer("outage-parser"),
	}
}

// ParseXML returns one record per repeated element under the document root.
// A single element is returned as a one-record set.
func (p *OutageParser) ParseXML(ctx context.Context, data []byte) (types.Outages, error) {
	_, span := p.tracer.Start(ctx, "outage_parser.parse_xml",
		trace.WithAttributes(attribute.Int("xml_size_bytes", len(data))),
	)
	defer span.End()

	xmlMap, err := mxj.NewMapXml(data)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	records := extractRecords(xmlMap)
	outages := make(types.Outages, 0, len(records))
	for _, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to marshal outage record: %w", err)
		}
		outages = append(outages, raw)
	}

	span.SetAttributes(attribute.Int("outages_count", len(outages)))
	return outages, nil
}

func extractRecords(xmlMap mxj.Map) []interface{} {
	var root map[string]interface{}
	for _, v := range xmlMap {
		root, _ = v.(map[string]interface{})
		break
	}
	if root == nil {
		return nil
	}

	// Map iteration order is random; pick the first element child by name.
	keys := make([]string, 0, len(root))
	for k := range root {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch child := root[k].(type) {
		case []interface{}:
			return child
		case map[string]interface{}:
			return []interface{}{child}
		}
	}
	return nil
}
