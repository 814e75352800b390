package salesforce

import (
	"context"
	"strings"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// QueryResult is one page of SOQL results. When Done is false,
// NextRecordsURL points at the next page.
type QueryResult struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl,omitempty"`
	Records        []Record `json:"records"`
}

func (c *Client) base() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Query runs a SOQL query and returns the first page of results.
// includeDeleted routes through queryAll, which also returns soft-deleted
// and archived records.
func (c *Client) Query(ctx context.Context, query string, includeDeleted bool) (*QueryResult, error) {
	endpoint := "query"
	if includeDeleted {
		endpoint = "queryAll"
	}
	callURL, err := sfhttp.BuildURL(c.base(), endpoint, map[string]string{"q": query})
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := c.callJSON(ctx, "GET", callURL, "query", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryMore fetches a continuation page. identifier is either a query
// locator id or, when identifierIsURL is true, the nextRecordsUrl path from
// a previous page.
func (c *Client) QueryMore(ctx context.Context, identifier string, identifierIsURL bool, includeDeleted bool) (*QueryResult, error) {
	var callURL string
	if identifierIsURL {
		callURL = "https://" + c.Instance() + identifier
	} else {
		endpoint := "query"
		if includeDeleted {
			endpoint = "queryAll"
		}
		callURL = c.base() + endpoint + "/" + identifier
	}
	var result QueryResult
	if err := c.callJSON(ctx, "GET", callURL, "query", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryAll runs a SOQL query and follows the continuation chain until the
// server reports the result set complete, accumulating every record. The
// returned TotalSize is the count of accumulated records, which can differ
// from the server's running total when data changes mid-pagination.
func (c *Client) QueryAll(ctx context.Context, query string, includeDeleted bool) (*QueryResult, error) {
	it, err := c.QueryAllIter(ctx, query, includeDeleted)
	if err != nil {
		return nil, err
	}
	all := &QueryResult{Done: true, Records: []Record{}}
	for it.Next() {
		all.Records = append(all.Records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	all.TotalSize = len(all.Records)
	return all, nil
}

// QueryAllIter runs a SOQL query and returns an iterator that fetches
// continuation pages lazily, one server round trip per page. Iterate with:
//
//	for it.Next() {
//	    record := it.Record()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
func (c *Client) QueryAllIter(ctx context.Context, query string, includeDeleted bool) (*QueryIterator, error) {
	first, err := c.Query(ctx, query, includeDeleted)
	if err != nil {
		return nil, err
	}
	return &QueryIterator{
		client:         c,
		ctx:            ctx,
		includeDeleted: includeDeleted,
		page:           first,
		idx:            -1,
	}, nil
}

// QueryIterator walks the records of a SOQL result set across pages. It is
// not safe for concurrent use.
type QueryIterator struct {
	client         *Client
	ctx            context.Context
	includeDeleted bool
	page           *QueryResult
	idx            int
	err            error
}

// Next advances the iterator, fetching the next page when the current one
// is exhausted. It returns false at the end of the result set or on error.
func (it *QueryIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.idx++
	for it.idx >= len(it.page.Records) {
		if it.page.Done {
			return false
		}
		next, err := it.client.QueryMore(it.ctx, it.page.NextRecordsURL, true, it.includeDeleted)
		if err != nil {
			it.err = err
			return false
		}
		it.page = next
		it.idx = 0
	}
	return true
}

// Record returns the record Next advanced to.
func (it *QueryIterator) Record() Record {
	return it.page.Records[it.idx]
}

// Err returns the first error hit while paginating, if any.
func (it *QueryIterator) Err() error {
	return it.err
}

// Search runs a SOSL search, e.g. `FIND {Jones}`.
func (c *Client) Search(ctx context.Context, search string) (Record, error) {
	callURL, err := sfhttp.BuildURL(c.base(), "search", map[string]string{"q": search})
	if err != nil {
		return nil, err
	}
	var result Record
	if err := c.callJSON(ctx, "GET", callURL, "search", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// QuickSearch wraps a bare term in SOSL FIND syntax and runs it.
func (c *Client) QuickSearch(ctx context.Context, term string) (Record, error) {
	return c.Search(ctx, "FIND {"+strings.TrimSpace(term)+"}")
}
