package conn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tobsdb/recstore/internal/index"
	"github.com/tobsdb/recstore/internal/query"
	"github.com/tobsdb/recstore/internal/record"
	"github.com/tobsdb/recstore/internal/storage"
	"github.com/tobsdb/recstore/internal/table"
	"github.com/tobsdb/recstore/internal/tree"
	"github.com/tobsdb/recstore/internal/validate"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__tdb_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

func (r Response) Marshal() []byte {
	buf, err := json.Marshal(r)
	if err != nil {
		buf, _ = json.Marshal(NewErrorResponse(http.StatusInternalServerError, err.Error()))
	}
	return buf
}

// errorResponse maps err to the status a client should see.
func errorResponse(err error) Response {
	if verr, ok := validate.AsValidationError(err); ok {
		return Response{Data: verr.Fields, Message: verr.Error(), Status: http.StatusUnprocessableEntity}
	}
	switch {
	case storage.IsRecordNotFound(err),
		errors.Is(err, storage.ErrTableNotFound),
		errors.Is(err, storage.ErrNoBackups),
		errors.Is(err, storage.ErrBackupNotFound):
		return NewErrorResponse(http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrTableExists),
		errors.Is(err, table.ErrDuplicateID):
		return NewErrorResponse(http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrInvalidTableName),
		errors.Is(err, storage.ErrNotSequence),
		errors.Is(err, table.ErrInvalidData),
		errors.Is(err, table.ErrInvalidID),
		errors.Is(err, query.ErrUnknownOperator),
		errors.Is(err, query.ErrInvalidOperand),
		errors.Is(err, query.ErrInvalidDirection),
		errors.Is(err, query.ErrInvalidPage),
		errors.Is(err, index.ErrIndexNotFound),
		errors.Is(err, tree.ErrKeyTypeMismatch):
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	return NewErrorResponse(http.StatusInternalServerError, err.Error())
}

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func badRequest(err error) Response {
	return NewErrorResponse(http.StatusBadRequest, err.Error())
}

type CreateRequest struct {
	Table string        `json:"table"`
	Data  record.Record `json:"data"`
}

func CreateReqHandler(s *Server, raw []byte) Response {
	var req CreateRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if req.Data == nil {
		return badRequest(table.ErrInvalidData)
	}
	record.NormalizeRecord(req.Data)

	if err := s.validate(req.Table, req.Data); err != nil {
		return errorResponse(err)
	}

	t, err := s.Table(req.Table, true)
	if err != nil {
		return errorResponse(err)
	}
	res, err := t.Insert(req.Data)
	if err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusCreated,
		fmt.Sprintf("Created new row in table %s", t.Name),
		res,
	)
}

type CreateManyRequest struct {
	Table string          `json:"table"`
	Data  []record.Record `json:"data"`
}

func CreateManyReqHandler(s *Server, raw []byte) Response {
	var req CreateManyRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	for _, r := range req.Data {
		if r == nil {
			return badRequest(table.ErrInvalidData)
		}
		record.NormalizeRecord(r)
		if err := s.validate(req.Table, r); err != nil {
			return errorResponse(err)
		}
	}

	t, err := s.Table(req.Table, true)
	if err != nil {
		return errorResponse(err)
	}
	rows, err := t.InsertMany(req.Data)
	if err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusCreated,
		fmt.Sprintf("Created %d new rows in table %s", len(rows), t.Name),
		rows,
	)
}

type FindRequest struct {
	Table string `json:"table"`
	Id    *int   `json:"id"`
}

func FindReqHandler(s *Server, raw []byte) Response {
	var req FindRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if req.Id == nil {
		return badRequest(errors.New("id is required"))
	}

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	res, err := t.FindByID(*req.Id)
	if err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Found row with id %d in table %s", *req.Id, t.Name),
		res,
	)
}

type FindManyRequest struct {
	Table string         `json:"table"`
	Where map[string]any `json:"where"`
	Take  int            `json:"take"`
	Skip  int            `json:"skip"`
}

func FindManyReqHandler(s *Server, raw []byte) Response {
	var req FindManyRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	record.Normalize(req.Where)

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	rows, err := t.FindAll(req.Where)
	if err != nil {
		return errorResponse(err)
	}

	if req.Skip > 0 {
		rows = rows[min(req.Skip, len(rows)):]
	}
	if req.Take > 0 && req.Take < len(rows) {
		rows = rows[:req.Take]
	}

	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Found %d rows in table %s", len(rows), t.Name),
		rows,
	)
}

type UpdateRequest struct {
	Table string         `json:"table"`
	Id    *int           `json:"id"`
	Where map[string]any `json:"where"`
	Data  record.Record  `json:"data"`
}

func UpdateReqHandler(s *Server, raw []byte) Response {
	var req UpdateRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if req.Id == nil {
		return badRequest(errors.New("id is required"))
	}
	if req.Data == nil {
		return badRequest(table.ErrInvalidData)
	}
	record.NormalizeRecord(req.Data)

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	if schema := s.schema(t.Name); schema != nil {
		current, err := t.FindByID(*req.Id)
		if err != nil {
			return errorResponse(err)
		}
		for k, v := range req.Data {
			current[k] = v
		}
		if err := validate.ValidateRecord(current, schema); err != nil {
			return errorResponse(err)
		}
	}

	res, err := t.Update(*req.Id, req.Data)
	if err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Updated row in table %s", t.Name),
		res,
	)
}

func UpdateManyReqHandler(s *Server, raw []byte) Response {
	var req UpdateRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if req.Data == nil {
		return badRequest(table.ErrInvalidData)
	}
	record.Normalize(req.Where)
	record.NormalizeRecord(req.Data)

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	if schema := s.schema(t.Name); schema != nil {
		rows, err := t.FindAll(req.Where)
		if err != nil {
			return errorResponse(err)
		}
		for _, r := range rows {
			for k, v := range req.Data {
				r[k] = v
			}
			if err := validate.ValidateRecord(r, schema); err != nil {
				return errorResponse(err)
			}
		}
	}

	n, err := t.UpdateMany(req.Where, req.Data)
	if err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Updated %d rows in table %s", n, t.Name),
		n,
	)
}

type DeleteRequest struct {
	Table string         `json:"table"`
	Id    *int           `json:"id"`
	Where map[string]any `json:"where"`
}

func DeleteReqHandler(s *Server, raw []byte) Response {
	var req DeleteRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if req.Id == nil {
		return badRequest(errors.New("id is required"))
	}

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	if err := t.Delete(*req.Id); err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Deleted row in table %s", t.Name),
		*req.Id,
	)
}

func DeleteManyReqHandler(s *Server, raw []byte) Response {
	var req DeleteRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	record.Normalize(req.Where)

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	n, err := t.DeleteMany(req.Where)
	if err != nil {
		return errorResponse(err)
	}

	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Deleted %d rows in table %s", n, t.Name),
		n,
	)
}

type Condition struct {
	Field string         `json:"field"`
	Op    query.Operator `json:"op"`
	Value any            `json:"value"`
}

type OrderBy struct {
	Field     string          `json:"field"`
	Direction query.Direction `json:"direction"`
}

type QueryRequest struct {
	Table   string      `json:"table"`
	Where   []Condition `json:"where"`
	OrderBy *OrderBy    `json:"order_by"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Select  []string    `json:"select"`

	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func (req *QueryRequest) builder(t *table.Table) *query.Builder {
	b := query.New(t)
	for _, c := range req.Where {
		op := c.Op
		if op == "" {
			op = query.OpEqual
		}
		b.Where(c.Field, op, record.Normalize(c.Value))
	}
	if req.OrderBy != nil && req.OrderBy.Field != "" {
		dir := req.OrderBy.Direction
		if dir == "" {
			dir = query.ASC
		}
		b.OrderBy(req.OrderBy.Field, dir)
	}
	if len(req.Select) > 0 {
		b.Select(req.Select...)
	}
	return b.Limit(req.Limit).Offset(req.Offset)
}

func (s *Server) queryRequest(raw []byte) (*QueryRequest, *table.Table, *Response) {
	var req QueryRequest
	if err := decode(raw, &req); err != nil {
		res := badRequest(err)
		return nil, nil, &res
	}
	t, err := s.Table(req.Table, false)
	if err != nil {
		res := errorResponse(err)
		return nil, nil, &res
	}
	return &req, t, nil
}

func QueryReqHandler(s *Server, raw []byte) Response {
	req, t, errRes := s.queryRequest(raw)
	if errRes != nil {
		return *errRes
	}
	rows, err := req.builder(t).Get()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Found %d rows in table %s", len(rows), t.Name),
		rows,
	)
}

func PaginateReqHandler(s *Server, raw []byte) Response {
	req, t, errRes := s.queryRequest(raw)
	if errRes != nil {
		return *errRes
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PerPage == 0 {
		req.PerPage = 10
	}
	page, err := req.builder(t).Paginate(req.Page, req.PerPage)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Page %d of %d in table %s", page.Page, page.TotalPages, t.Name),
		page,
	)
}

func CountReqHandler(s *Server, raw []byte) Response {
	req, t, errRes := s.queryRequest(raw)
	if errRes != nil {
		return *errRes
	}
	n, err := req.builder(t).Count()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Counted %d rows in table %s", n, t.Name),
		n,
	)
}

type SearchRequest struct {
	Table  string   `json:"table"`
	Term   string   `json:"term"`
	Fields []string `json:"fields"`
}

func SearchReqHandler(s *Server, raw []byte) Response {
	var req SearchRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if len(req.Fields) == 0 {
		return badRequest(errors.New("fields are required"))
	}

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	rows, err := query.Search(t, req.Term, req.Fields...)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Found %d rows in table %s", len(rows), t.Name),
		rows,
	)
}

type LookupRequest struct {
	Table string `json:"table"`
	Field string `json:"field"`
	Value any    `json:"value"`
	Min   any    `json:"min"`
	Max   any    `json:"max"`
}

func (s *Server) lookup(raw []byte, ranged bool) Response {
	var req LookupRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}

	t, err := s.Table(req.Table, false)
	if err != nil {
		return errorResponse(err)
	}
	m := t.Indexes()
	if m == nil {
		return errorResponse(fmt.Errorf("%w: table %s has no indexes", index.ErrIndexNotFound, t.Name))
	}

	var ids []int
	if ranged {
		ids, err = m.RangeLookup(req.Field, record.Normalize(req.Min), record.Normalize(req.Max))
	} else {
		ids, err = m.Lookup(req.Field, record.Normalize(req.Value))
	}
	if err != nil {
		return errorResponse(err)
	}

	rows, err := t.FindByIDs(ids)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(
		http.StatusOK,
		fmt.Sprintf("Found %d rows in table %s", len(rows), t.Name),
		rows,
	)
}

func LookupReqHandler(s *Server, raw []byte) Response { return s.lookup(raw, false) }

func RangeLookupReqHandler(s *Server, raw []byte) Response { return s.lookup(raw, true) }

func ListTablesReqHandler(s *Server) Response {
	tables, err := s.engine.ListTables()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Found %d tables", len(tables)), tables)
}

type TableRequest struct {
	Table string `json:"table"`
	Data  any    `json:"data"`
}

func TableInfoReqHandler(s *Server, raw []byte) Response {
	var req TableRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	info, err := s.engine.TableInfo(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Info of table %s", req.Table), info)
}

func DropTableReqHandler(s *Server, raw []byte) Response {
	var req TableRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if err := s.engine.Drop(req.Table); err != nil {
		return errorResponse(err)
	}
	s.forget(req.Table)
	return NewResponse(http.StatusOK, fmt.Sprintf("Dropped table %s", req.Table), nil)
}

// WriteTableReqHandler replaces the whole content of a table.
func WriteTableReqHandler(s *Server, raw []byte) Response {
	var req TableRequest
	if err := decode(raw, &req); err != nil {
		return badRequest(err)
	}
	if err := s.engine.WriteValue(req.Table, record.Normalize(req.Data)); err != nil {
		return errorResponse(err)
	}
	s.forget(req.Table)
	return NewResponse(http.StatusOK, fmt.Sprintf("Wrote table %s", req.Table), nil)
}

func (s *Server) validate(table string, r record.Record) error {
	schema := s.schema(table)
	if schema == nil {
		return nil
	}
	return validate.ValidateRecord(r, schema)
}
