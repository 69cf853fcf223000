package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a database query, following cursors.
// The next page is requested while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, query *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	next := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if query != nil {
			req.Filter = query.Filter
			req.Sorts = query.Sorts
			req.PageSize = query.PageSize
		}
		return req
	}

	var pages []notionapi.Page
	var pending <-chan result
	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error
		if pending != nil {
			r := <-pending
			resp, err = r.resp, r.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, next(""))
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}

		if resp.HasMore {
			ch := make(chan result, 1)
			pending = ch
			req := next(resp.NextCursor)
			go func() {
				r, e := c.QueryDatabase(ctx, dbID, req)
				ch <- result{resp: r, err: e}
			}()
		}

		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			return pages, nil
		}
	}
}

// QueryActive fetches the pages whose checkbox property is ticked, sorted
// ascending by orderProp.
func QueryActive(ctx context.Context, c Client, dbID, checkboxProp, orderProp string) ([]notionapi.Page, error) {
	query := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: checkboxProp,
			Checkbox: &notionapi.CheckboxFilterCondition{Equals: true},
		},
	}
	if orderProp != "" {
		query.Sorts = []notionapi.SortObject{{Property: orderProp, Direction: notionapi.SortOrderASC}}
	}
	pages, err := QueryAll(ctx, c, dbID, query)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query active pages in %s", dbID)
	}
	return pages, nil
}
