package platform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
)

// pageEnvelope is the Dify list response envelope.
type pageEnvelope struct {
	Data    []models.Resource `json:"data"`
	HasMore bool              `json:"has_more"`
}

// KnowledgeAPI talks to the /v1 dataset endpoints with a bearer API key.
type KnowledgeAPI struct {
	client        *Client
	indexAttempts int
	indexDelay    time.Duration
}

// NewKnowledgeAPI creates a KnowledgeAPI for one endpoint.
func NewKnowledgeAPI(ep models.Endpoint, opts ClientOptions) *KnowledgeAPI {
	if ep.Insecure {
		opts.Insecure = true
	}
	k := &KnowledgeAPI{
		client:        NewClient(ep.KnowledgeURL(), ep.APIKey, opts),
		indexAttempts: opts.IndexPollAttempts,
		indexDelay:    opts.IndexPollDelay,
	}
	if k.indexAttempts <= 0 {
		k.indexAttempts = DefaultIndexPollAttempts
	}
	if k.indexDelay <= 0 {
		k.indexDelay = DefaultIndexPollDelay
	}
	return k
}

func (k *KnowledgeAPI) listPage(ctx context.Context, path, cursor string, pageSize int) (pageEnvelope, error) {
	var env pageEnvelope
	params, err := pageParams(cursor, pageSize)
	if err != nil {
		return env, payloadError("GET "+path, err)
	}
	err = k.client.GetJSON(ctx, path, url.Values(params), &env)
	return env, err
}

// DatasetsPage returns one page of datasets.
func (k *KnowledgeAPI) DatasetsPage(ctx context.Context, cursor string, pageSize int) (pagination.Page[models.TopLevelResource], error) {
	env, err := k.listPage(ctx, "/v1/datasets", cursor, pageSize)
	if err != nil {
		return pagination.Page[models.TopLevelResource]{}, err
	}
	items := make([]models.TopLevelResource, 0, len(env.Data))
	for _, r := range env.Data {
		items = append(items, toTopLevel(r, models.KindKnowledgeBase))
	}
	return pagination.Page[models.TopLevelResource]{Items: items, HasMore: env.HasMore}, nil
}

// CreateDataset creates an empty dataset and returns its id.
func (k *KnowledgeAPI) CreateDataset(ctx context.Context, name, description string) (string, error) {
	var created models.Resource
	err := k.client.PostJSON(ctx, "/v1/datasets", map[string]interface{}{
		"name":        name,
		"description": description,
		"permission":  "only_me",
	}, &created)
	if err != nil {
		return "", err
	}
	id := resourceID(created)
	if id == "" {
		return "", payloadError("POST /v1/datasets", fmt.Errorf("response has no dataset id"))
	}
	return id, nil
}

// DocumentsPage returns one page of a dataset's documents.
func (k *KnowledgeAPI) DocumentsPage(ctx context.Context, datasetID, cursor string, pageSize int) (pagination.Page[models.Document], error) {
	env, err := k.listPage(ctx, "/v1/datasets/"+url.PathEscape(datasetID)+"/documents", cursor, pageSize)
	if err != nil {
		return pagination.Page[models.Document]{}, err
	}
	items := make([]models.Document, 0, len(env.Data))
	for _, r := range env.Data {
		items = append(items, toDocument(r))
	}
	return pagination.Page[models.Document]{Items: items, HasMore: env.HasMore}, nil
}

// minSeedTokens is the smallest segmentation window sent with a seed.
const minSeedTokens = 1000

var errNotIndexed = errors.New("document has no segments yet")

// seedRule is a custom process rule that keeps text as exactly one segment:
// no cleanup, a window at least as long as the text, and a separator that
// does not occur in it.
func seedRule(text string) map[string]interface{} {
	sep := "\n\n<<<segment>>>\n\n"
	for strings.Contains(text, sep) {
		sep = "#" + sep
	}
	return map[string]interface{}{
		"mode": "custom",
		"rules": map[string]interface{}{
			"pre_processing_rules": []map[string]interface{}{
				{"id": "remove_extra_spaces", "enabled": false},
				{"id": "remove_urls_emails", "enabled": false},
			},
			"segmentation": map[string]interface{}{
				"separator":     sep,
				"max_tokens":    max(len(text), minSeedTokens),
				"chunk_overlap": 0,
			},
		},
	}
}

// CreateDocument creates a text document whose only segment is seed and
// returns its id. Dify cannot create an empty document, so the caller passes
// the first segment here and adds the rest with AddSegments. The seed's
// metadata is applied with a segment update once Dify has indexed it; if that
// fails the document id is returned along with the error.
func (k *KnowledgeAPI) CreateDocument(ctx context.Context, datasetID, name string, seed models.Segment) (string, error) {
	path := "/v1/datasets/" + url.PathEscape(datasetID) + "/document/create_by_text"
	var resp struct {
		Document models.Resource `json:"document"`
	}
	err := k.client.PostJSON(ctx, path, map[string]interface{}{
		"name":               name,
		"text":               seed.Content,
		"indexing_technique": "high_quality",
		"process_rule":       seedRule(seed.Content),
	}, &resp)
	if err != nil {
		return "", err
	}
	id := resourceID(resp.Document)
	if id == "" {
		return "", payloadError("POST "+path, fmt.Errorf("response has no document id"))
	}
	if len(seed.Metadata) == 0 {
		return id, nil
	}

	segID, err := k.seedSegmentID(ctx, datasetID, id)
	if err != nil {
		return id, err
	}
	_, _, err = k.client.Post(ctx, segmentsPath(datasetID, id)+"/"+url.PathEscape(segID),
		map[string]interface{}{"segment": segmentPayload(seed)})
	return id, err
}

// seedSegmentID waits for a new document's first segment and returns its id.
func (k *KnowledgeAPI) seedSegmentID(ctx context.Context, datasetID, documentID string) (string, error) {
	op := "GET " + segmentsPath(datasetID, documentID)
	var id string
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			page, err := k.SegmentsPage(ctx, datasetID, documentID, "", 1)
			if err != nil {
				return err
			}
			if len(page.Items) == 0 {
				return errNotIndexed
			}
			if id = stringField(page.Items[0].Metadata, "id"); id == "" {
				return payloadError(op, fmt.Errorf("segment has no id"))
			}
			return nil
		},
		IsFatalError: func(err error) bool { return !errors.Is(err, errNotIndexed) },
		Attempts:     k.indexAttempts,
		Delay:        k.indexDelay,
		Clock:        clock.WallClock,
		Stop:         ctx.Done(),
	})
	if err != nil {
		if last := retry.LastError(err); last != nil {
			err = last
		}
		if errors.Is(err, errNotIndexed) {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return "", err
	}
	return id, nil
}

func segmentsPath(datasetID, documentID string) string {
	return "/v1/datasets/" + url.PathEscape(datasetID) + "/documents/" + url.PathEscape(documentID) + "/segments"
}

// SegmentsPage returns one page of a document's segments in source order.
func (k *KnowledgeAPI) SegmentsPage(ctx context.Context, datasetID, documentID, cursor string, pageSize int) (pagination.Page[models.Segment], error) {
	env, err := k.listPage(ctx, segmentsPath(datasetID, documentID), cursor, pageSize)
	if err != nil {
		return pagination.Page[models.Segment]{}, err
	}
	items := make([]models.Segment, 0, len(env.Data))
	for _, r := range env.Data {
		items = append(items, toSegment(r))
	}
	return pagination.Page[models.Segment]{Items: items, HasMore: env.HasMore}, nil
}

// AddSegments appends segments to a document, in the given order.
func (k *KnowledgeAPI) AddSegments(ctx context.Context, datasetID, documentID string, segments []models.Segment) error {
	payload := make([]map[string]interface{}, 0, len(segments))
	for _, s := range segments {
		payload = append(payload, segmentPayload(s))
	}
	_, _, err := k.client.Post(ctx, segmentsPath(datasetID, documentID), map[string]interface{}{"segments": payload})
	return err
}

// CheckAuth verifies the API key by listing a single dataset.
func (k *KnowledgeAPI) CheckAuth(ctx context.Context) error {
	_, err := k.DatasetsPage(ctx, "", 1)
	return err
}
