package conn

import (
	"fmt"
	"net/http"
)

type RequestAction string

const (
	// rows actions
	RequestActionCreate     RequestAction = "create"
	RequestActionCreateMany RequestAction = "createMany"
	RequestActionFind       RequestAction = "findUnique"
	RequestActionFindMany   RequestAction = "findMany"
	RequestActionDelete     RequestAction = "deleteUnique"
	RequestActionDeleteMany RequestAction = "deleteMany"
	RequestActionUpdate     RequestAction = "updateUnique"
	RequestActionUpdateMany RequestAction = "updateMany"

	// query actions
	RequestActionQuery       RequestAction = "query"
	RequestActionPaginate    RequestAction = "paginate"
	RequestActionCount       RequestAction = "count"
	RequestActionSearch      RequestAction = "search"
	RequestActionLookup      RequestAction = "lookup"
	RequestActionRangeLookup RequestAction = "rangeLookup"

	// table actions
	RequestActionListTables RequestAction = "listTables"
	RequestActionTableInfo  RequestAction = "tableInfo"
	RequestActionDropTable  RequestAction = "dropTable"
	RequestActionWriteTable RequestAction = "writeTable"
)

func (action RequestAction) IsReadOnly() bool {
	switch action {
	case RequestActionFind, RequestActionFindMany, RequestActionQuery, RequestActionPaginate,
		RequestActionCount, RequestActionSearch, RequestActionLookup, RequestActionRangeLookup,
		RequestActionListTables, RequestActionTableInfo:
		return true
	}
	return false
}

func ActionHandler(s *Server, action RequestAction, raw []byte) Response {
	switch action {
	case RequestActionCreate:
		return CreateReqHandler(s, raw)
	case RequestActionCreateMany:
		return CreateManyReqHandler(s, raw)
	case RequestActionFind:
		return FindReqHandler(s, raw)
	case RequestActionFindMany:
		return FindManyReqHandler(s, raw)
	case RequestActionDelete:
		return DeleteReqHandler(s, raw)
	case RequestActionDeleteMany:
		return DeleteManyReqHandler(s, raw)
	case RequestActionUpdate:
		return UpdateReqHandler(s, raw)
	case RequestActionUpdateMany:
		return UpdateManyReqHandler(s, raw)
	case RequestActionQuery:
		return QueryReqHandler(s, raw)
	case RequestActionPaginate:
		return PaginateReqHandler(s, raw)
	case RequestActionCount:
		return CountReqHandler(s, raw)
	case RequestActionSearch:
		return SearchReqHandler(s, raw)
	case RequestActionLookup:
		return LookupReqHandler(s, raw)
	case RequestActionRangeLookup:
		return RangeLookupReqHandler(s, raw)
	case RequestActionListTables:
		return ListTablesReqHandler(s)
	case RequestActionTableInfo:
		return TableInfoReqHandler(s, raw)
	case RequestActionDropTable:
		return DropTableReqHandler(s, raw)
	case RequestActionWriteTable:
		return WriteTableReqHandler(s, raw)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
}
