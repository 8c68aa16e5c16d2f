// Package querylang implements the lexer and parser for the query
// language subset the HTTP surface accepts: schema DDL, single-row
// DML, a predicate-filtered SELECT, index management, the cluster-wide
// reset, and the optimizer/cache/statistics control commands.
package querylang

// Where is the single `<col><op><val>` predicate the grammar allows
// after a SELECT/UPDATE/DELETE's WHERE clause.
type Where struct {
	Column string
	Op     string // "=", "!=", "<", "<=", ">", ">="
	Value  string
}

// Statement is the discriminated union every parsed query reduces to.
// The engine type-switches on the concrete type.
type Statement interface {
	statement()
}

type ShowDatabases struct{}

type ShowTables struct {
	DB string `validate:"required"`
}

type CreateDatabase struct {
	Name string `validate:"required"`
}

type DropDatabase struct {
	Name string `validate:"required"`
}

type CreateTable struct {
	DB, Table string `validate:"required"`
}

type DropTable struct {
	DB, Table string `validate:"required"`
}

type Insert struct {
	DB, Table string   `validate:"required"`
	Columns   []string `validate:"required,min=1"`
	Values    []string `validate:"required,min=1"`
}

type Update struct {
	DB, Table string            `validate:"required"`
	Sets      map[string]string `validate:"required,min=1"`
	Where     *Where
}

type Delete struct {
	DB, Table string `validate:"required"`
	Where     *Where
}

type Select struct {
	Columns   []string `validate:"required,min=1"`
	DB, Table string   `validate:"required"`
	Where     *Where
}

type CreateIndex struct {
	DB, Table, Column string `validate:"required"`
}

type DropIndex struct {
	DB, Table, Column string `validate:"required"`
}

// ShowIndexes lists every index, or just those on DB.Table when Table
// is non-empty.
type ShowIndexes struct{ DB, Table string }

type DeleteEverything struct{}

// Optimization covers `optimization status|enable|disable|level <LVL>`.
type Optimization struct {
	Action string // "status", "enable", "disable", "level"
	Level  string // set only when Action == "level"
}

// Cache covers `cache enable|disable|clear|stats`.
type Cache struct{ Action string }

type StatisticsCollect struct{}

func (ShowDatabases) statement()     {}
func (ShowTables) statement()        {}
func (CreateDatabase) statement()    {}
func (DropDatabase) statement()      {}
func (CreateTable) statement()       {}
func (DropTable) statement()         {}
func (Insert) statement()            {}
func (Update) statement()            {}
func (Delete) statement()            {}
func (Select) statement()            {}
func (CreateIndex) statement()       {}
func (DropIndex) statement()         {}
func (ShowIndexes) statement()       {}
func (DeleteEverything) statement()  {}
func (Optimization) statement()      {}
func (Cache) statement()             {}
func (StatisticsCollect) statement() {}
