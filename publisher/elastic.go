package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"github.com/olivere/elastic/v7"

	"github.com/withobsrvr/postgres-to-es/document"
	"github.com/withobsrvr/postgres-to-es/logging"
)

// ElasticConfig configures the Elasticsearch client
type ElasticConfig struct {
	URL   string
	Sniff bool
}

// ElasticStore publishes to Elasticsearch through olivere/elastic.
type ElasticStore struct {
	client *elastic.Client
	url    string
	logger *logging.ComponentLogger
}

// NewElasticStore creates a client for cfg.URL. The client performs no
// retries of its own.
func NewElasticStore(cfg ElasticConfig, logger *logging.ComponentLogger) (*ElasticStore, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(cfg.Sniff),
		elastic.SetHealthcheck(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticStore{
		client: client,
		url:    cfg.URL,
		logger: logger,
	}, nil
}

// CheckVersion verifies the server version satisfies constraint. An empty
// constraint only logs the version.
func (s *ElasticStore) CheckVersion(ctx context.Context, constraint string) (string, error) {
	raw, err := s.client.ElasticsearchVersion(s.url)
	if err != nil {
		return "", transportError(fmt.Errorf("query elasticsearch version: %w", err))
	}
	s.logger.Info().Str("elasticsearch_version", raw).Msg("Connected to Elasticsearch")

	if constraint == "" {
		return raw, nil
	}
	return raw, checkVersion(raw, constraint)
}

func checkVersion(raw, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid elasticsearch version %q: %w", raw, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("elasticsearch version %s does not satisfy %q", raw, constraint)
	}
	return nil
}

func (s *ElasticStore) EnsureIndex(ctx context.Context, name string, schema []byte) error {
	exists, err := s.client.IndexExists(name).Do(ctx)
	if err != nil {
		return classifyElastic(fmt.Errorf("check index %s: %w", name, err))
	}
	if exists {
		return nil
	}

	result, err := s.client.CreateIndex(name).BodyString(string(schema)).Do(ctx)
	if err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyElastic(fmt.Errorf("create index %s: %w", name, err))
	}
	if !result.Acknowledged {
		s.logger.Warn().Str("index", name).Msg("Index creation not acknowledged")
	}
	s.logger.Info().Str("index", name).Msg("Created index")
	return nil
}

func (s *ElasticStore) Bulk(ctx context.Context, actions []document.Action) ([]Failure, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	bulk := s.client.Bulk()
	for _, a := range actions {
		if a.Op != document.OpIndex {
			return nil, fmt.Errorf("unsupported bulk operation %q", a.Op)
		}
		bulk.Add(elastic.NewBulkIndexRequest().Index(a.Index).Id(a.ID).Doc(a.Doc))
	}

	resp, err := bulk.Do(ctx)
	if err != nil {
		return nil, classifyElastic(fmt.Errorf("bulk request: %w", err))
	}

	var failures []Failure
	for _, item := range resp.Failed() {
		f := Failure{Index: item.Index, ID: item.Id, Status: item.Status}
		if item.Error != nil {
			f.Reason = item.Error.Type + ": " + item.Error.Reason
		}
		failures = append(failures, f)
	}
	return failures, nil
}

func isAlreadyExists(err error) bool {
	var esErr *elastic.Error
	if errors.As(err, &esErr) && esErr.Details != nil {
		return esErr.Details.Type == "resource_already_exists_exception" ||
			esErr.Details.Type == "index_already_exists_exception"
	}
	return false
}

// classifyElastic marks network failures and overload responses as
// transient. Other HTTP errors are returned as is.
func classifyElastic(err error) error {
	var esErr *elastic.Error
	if errors.As(err, &esErr) {
		switch esErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return transportError(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || elastic.IsConnErr(err) || elastic.IsTimeout(err) ||
		errors.Is(err, elastic.ErrNoClient) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(err)
	}
	return err
}
