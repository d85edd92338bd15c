package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"kbagent/internal/domain"
	"kbagent/internal/port"
)

const (
	propText  = "text"
	propExtra = "extra"
)

// weaviateMetaProps are the metadata keys stored as filterable properties.
// Anything else travels in the extra JSON blob.
var weaviateMetaProps = []string{
	domain.MetaSource,
	domain.MetaUploadedAt,
	domain.MetaIngestID,
	domain.MetaContentHash,
	domain.MetaChunkIndex,
}

// WeaviateVectorStore stores chunks as objects of one Weaviate class.
// Batch inserts are not atomic: objects accepted before a failure stay.
type WeaviateVectorStore struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateClient builds a client for host ("localhost:8080") and scheme.
func NewWeaviateClient(host, scheme string) (*weaviate.Client, error) {
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate client: %v", domain.ErrStore, err)
	}
	return client, nil
}

// NewWeaviateVectorStore ensures the class for collection exists.
func NewWeaviateVectorStore(ctx context.Context, client *weaviate.Client, collection string) (*WeaviateVectorStore, error) {
	s := &WeaviateVectorStore{client: client, class: ClassName(collection)}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, storeErr("ensure schema", err)
	}
	return s, nil
}

// ClassName converts a collection name into a Weaviate class name:
// "kb_agent" becomes "KbAgent".
func ClassName(collection string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(collection, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	if b.Len() == 0 {
		return "Chunk"
	}
	return b.String()
}

func (s *WeaviateVectorStore) ensureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	props := []*models.Property{
		{Name: propText, DataType: []string{"text"}},
		{Name: propExtra, DataType: []string{"text"}, Tokenization: "field"},
	}
	for _, key := range weaviateMetaProps {
		props = append(props, &models.Property{Name: key, DataType: []string{"text"}, Tokenization: "field"})
	}

	class := &models.Class{
		Class:       s.class,
		Description: "A chunk of an ingested document",
		Vectorizer:  "none",
		Properties:  props,
	}
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *WeaviateVectorStore) Insert(ctx context.Context, records []port.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		props, err := toProperties(r)
		if err != nil {
			return storeErr("encode metadata", err)
		}
		objects = append(objects, &models.Object{
			Class:      s.class,
			ID:         strfmt.UUID(objectID(r.ID)),
			Properties: props,
			Vector:     r.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return storeErr("batch insert", err)
	}

	var failed []string
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			failed = append(failed, e.Message)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: batch insert: %d errors, first: %s", domain.ErrStore, len(failed), failed[0])
	}
	return nil
}

func (s *WeaviateVectorStore) Search(ctx context.Context, query []float32, k int) ([]port.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	fields := []graphql.Field{{Name: propText}, {Name: propExtra}}
	for _, key := range weaviateMetaProps {
		fields = append(fields, graphql.Field{Name: key})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}})

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(query)
	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, storeErr("search", err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql: %s", domain.ErrStore, res.Errors[0].Message)
	}

	get, _ := res.Data["Get"].(map[string]interface{})
	objects, _ := get[s.class].([]interface{})

	hits := make([]port.Hit, 0, len(objects))
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		hit := port.Hit{Metadata: fromProperties(props)}
		hit.Text, _ = props[propText].(string)
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			hit.ID, _ = additional["id"].(string)
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = 1 - d
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *WeaviateVectorStore) Delete(ctx context.Context, where domain.Predicate) (int, error) {
	total := 0
	for {
		resp, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(s.class).
			WithOutput("minimal").
			WithWhere(whereFilter(where)).
			Do(ctx)
		if err != nil {
			return total, storeErr("delete", err)
		}
		if resp == nil || resp.Results == nil {
			return total, nil
		}
		total += int(resp.Results.Successful)
		if resp.Results.Failed > 0 {
			return total, storeErr("delete", deleteFailure(resp.Results))
		}
		if resp.Results.Successful == 0 {
			return total, nil
		}
		// The server caps matches per call; repeat while a call hit the cap.
		if resp.Results.Limit == 0 || resp.Results.Matches < resp.Results.Limit {
			return total, nil
		}
	}
}

// deleteFailure reports the failed count with the first server message.
func deleteFailure(res *models.BatchDeleteResponseResults) error {
	for _, o := range res.Objects {
		if o == nil || o.Errors == nil {
			continue
		}
		for _, e := range o.Errors.Error {
			if e != nil && e.Message != "" {
				return fmt.Errorf("%d of %d matched objects not deleted: %s", res.Failed, res.Matches, e.Message)
			}
		}
	}
	return fmt.Errorf("%d of %d matched objects not deleted", res.Failed, res.Matches)
}

func (s *WeaviateVectorStore) Count(ctx context.Context, where domain.Predicate) (int, error) {
	agg := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if len(where) > 0 {
		agg = agg.WithWhere(whereFilter(where))
	}

	res, err := agg.Do(ctx)
	if err != nil {
		return 0, storeErr("count", err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("%w: graphql: %s", domain.ErrStore, res.Errors[0].Message)
	}

	aggregate, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := aggregate[s.class].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (s *WeaviateVectorStore) Close() error {
	return nil
}

func whereFilter(where domain.Predicate) *filters.WhereBuilder {
	if len(where) == 0 {
		return filters.Where().
			WithPath([]string{domain.MetaSource}).
			WithOperator(filters.Like).
			WithValueText("*")
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal).
			WithValueText(where[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func toProperties(r port.Record) (map[string]interface{}, error) {
	props := map[string]interface{}{propText: r.Text}
	extra := map[string]string{}
	for k, v := range r.Metadata {
		if isMetaProp(k) {
			props[k] = v
		} else {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return nil, err
		}
		props[propExtra] = string(data)
	}
	return props, nil
}

func fromProperties(props map[string]interface{}) map[string]string {
	meta := map[string]string{}
	if raw, ok := props[propExtra].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	for _, key := range weaviateMetaProps {
		if v, ok := props[key].(string); ok && v != "" {
			meta[key] = v
		}
	}
	return meta
}

func isMetaProp(key string) bool {
	for _, k := range weaviateMetaProps {
		if k == key {
			return true
		}
	}
	return false
}

// objectID returns id if it is a UUID, otherwise a stable UUID derived from it.
func objectID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
