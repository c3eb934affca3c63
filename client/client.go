// Package client talks to a recstore server over websocket.
//
//	c, err := client.New("ws://localhost:7085")
//	res, err := c.Create("users", map[string]any{"name": "Ann"})
//	res.Data.(map[string]any)["id"]
package client

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	ws "github.com/gorilla/websocket"
	"github.com/tobsdb/recstore/pkg"
)

var ErrNotConnected = errors.New("not connected")

type Client struct {
	// The websocket connection used by the client
	conn *ws.Conn
	// serializes request/response pairs on conn
	mu sync.Mutex

	Url    *url.URL
	req_id atomic.Int64
}

func New(urlStr string) (*Client, error) {
	Url, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	return &Client{Url: Url}, nil
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := ws.DefaultDialer.Dial(c.Url.String(), nil)
	if err != nil {
		return err
	}
	pkg.DebugLog("Connected to recstore server", c.Url.Host)
	c.conn = conn
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteMessage(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, "Disconnect"))
	err = errors.Join(err, c.conn.Close())
	c.conn = nil
	if err != nil {
		pkg.ErrorLog(err)
		return err
	}
	pkg.DebugLog("Disconnected from recstore server")
	return nil
}

type Response struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	RequestId int64  `json:"__tdb_client_req_id__"`
}

// Err returns a non nil error for responses with a status of 400 or above.
func (r Response) Err() error {
	if r.Status >= 400 {
		return fmt.Errorf("recstore: %d: %s", r.Status, r.Message)
	}
	return nil
}

// Do sends action with the fields of body and waits for its response.
func (c *Client) Do(action string, body map[string]any) (Response, error) {
	if err := c.Connect(); err != nil {
		return Response{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return Response{}, ErrNotConnected
	}

	id := c.req_id.Add(1)
	msg := map[string]any{"action": action, "__tdb_client_req_id__": id}
	for k, v := range body {
		msg[k] = v
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return Response{}, err
	}

	var res Response
	if err := c.conn.ReadJSON(&res); err != nil {
		return res, err
	}
	if res.RequestId != id {
		return res, fmt.Errorf("response for request %d, expected %d", res.RequestId, id)
	}
	return res, nil
}

func (c *Client) Create(table string, data any) (Response, error) {
	return c.Do("create", map[string]any{"table": table, "data": data})
}

func (c *Client) CreateMany(table string, data []any) (Response, error) {
	return c.Do("createMany", map[string]any{"table": table, "data": data})
}

func (c *Client) FindUnique(table string, id int) (Response, error) {
	return c.Do("findUnique", map[string]any{"table": table, "id": id})
}

func (c *Client) FindMany(table string, where map[string]any) (Response, error) {
	return c.Do("findMany", map[string]any{"table": table, "where": where})
}

func (c *Client) UpdateUnique(table string, id int, data any) (Response, error) {
	return c.Do("updateUnique", map[string]any{"table": table, "id": id, "data": data})
}

func (c *Client) UpdateMany(table string, where map[string]any, data any) (Response, error) {
	return c.Do("updateMany", map[string]any{"table": table, "where": where, "data": data})
}

func (c *Client) DeleteUnique(table string, id int) (Response, error) {
	return c.Do("deleteUnique", map[string]any{"table": table, "id": id})
}

func (c *Client) DeleteMany(table string, where map[string]any) (Response, error) {
	return c.Do("deleteMany", map[string]any{"table": table, "where": where})
}

// Condition is one where clause of a Query.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type Query struct {
	Where     []Condition
	OrderBy   string
	Direction string
	Limit     int
	Offset    int
	Select    []string
}

func (q Query) body(table string) map[string]any {
	body := map[string]any{
		"table":  table,
		"where":  q.Where,
		"limit":  q.Limit,
		"offset": q.Offset,
		"select": q.Select,
	}
	if q.OrderBy != "" {
		body["order_by"] = map[string]any{"field": q.OrderBy, "direction": q.Direction}
	}
	return body
}

func (c *Client) Query(table string, q Query) (Response, error) {
	return c.Do("query", q.body(table))
}

func (c *Client) Paginate(table string, q Query, page, per_page int) (Response, error) {
	body := q.body(table)
	body["page"] = page
	body["per_page"] = per_page
	return c.Do("paginate", body)
}

func (c *Client) ListTables() (Response, error) { return c.Do("listTables", nil) }

func (c *Client) DropTable(table string) (Response, error) {
	return c.Do("dropTable", map[string]any{"table": table})
}
