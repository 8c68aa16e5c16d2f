package querylang

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) Statement {
	t.Helper()
	lexer := NewLexer(raw)
	tokens, err := lexer.Tokenize()
	require.NoError(t, err)
	stmt, err := NewParser(tokens).Parse()
	require.NoError(t, err)
	return stmt
}

func TestParseShowDatabases(t *testing.T) {
	require.Equal(t, ShowDatabases{}, parse(t, "show databases"))
}

func TestParseShowTables(t *testing.T) {
	require.Equal(t, ShowTables{DB: "orders"}, parse(t, "show orders tables"))
}

func TestParseCreateAndDropDatabase(t *testing.T) {
	require.Equal(t, CreateDatabase{Name: "orders"}, parse(t, "create database orders"))
	require.Equal(t, DropDatabase{Name: "orders"}, parse(t, "drop database orders"))
}

func TestParseCreateAndDropTable(t *testing.T) {
	require.Equal(t, CreateTable{DB: "orders", Table: "items"}, parse(t, "create table orders.items"))
	require.Equal(t, DropTable{DB: "orders", Table: "items"}, parse(t, "drop table orders.items"))
}

func TestParseInsert(t *testing.T) {
	got := parse(t, "insert into orders.items (name,qty) values('widget','3')")
	require.Equal(t, Insert{
		DB: "orders", Table: "items",
		Columns: []string{"name", "qty"},
		Values:  []string{"widget", "3"},
	}, got)
}

func TestParseInsertRejectsMismatchedArity(t *testing.T) {
	lexer := NewLexer("insert into orders.items (name,qty) values('widget')")
	tokens, err := lexer.Tokenize()
	require.NoError(t, err)
	_, err = NewParser(tokens).Parse()
	require.Error(t, err)
}

func TestParseUpdateWithWhere(t *testing.T) {
	got := parse(t, "update orders.items set qty='5' where name='widget'")
	want := Update{
		DB: "orders", Table: "items",
		Sets:  map[string]string{"qty": "5"},
		Where: &Where{Column: "name", Op: "=", Value: "widget"},
	}
	require.Equal(t, want, got)
}

func TestParseDeleteEverything(t *testing.T) {
	require.Equal(t, DeleteEverything{}, parse(t, "delete everything"))
}

func TestParseDeleteWithWhere(t *testing.T) {
	got := parse(t, "delete orders.items where qty<'1'")
	want := Delete{
		DB: "orders", Table: "items",
		Where: &Where{Column: "qty", Op: "<", Value: "1"},
	}
	require.Equal(t, want, got)
}

func TestParseSelectWithWhere(t *testing.T) {
	got := parse(t, "select name,qty from orders.items where qty>='2'")
	want := Select{
		Columns: []string{"name", "qty"},
		DB:      "orders", Table: "items",
		Where: &Where{Column: "qty", Op: ">=", Value: "2"},
	}
	require.Equal(t, want, got)
}

func TestParseSelectStar(t *testing.T) {
	got := parse(t, "select * from orders.items")
	require.Equal(t, Select{Columns: []string{"*"}, DB: "orders", Table: "items"}, got)
}

func TestParseCreateAndDropIndex(t *testing.T) {
	require.Equal(t, CreateIndex{DB: "orders", Table: "items", Column: "name"},
		parse(t, "create index on orders.items(name)"))
	require.Equal(t, DropIndex{DB: "orders", Table: "items", Column: "name"},
		parse(t, "drop index on orders.items(name)"))
}

func TestParseShowIndexes(t *testing.T) {
	require.Equal(t, ShowIndexes{}, parse(t, "show indexes"))
	require.Equal(t, ShowIndexes{DB: "orders", Table: "items"}, parse(t, "show indexes on orders.items"))
}

func TestParseOptimizationCommands(t *testing.T) {
	require.Equal(t, Optimization{Action: "status"}, parse(t, "optimization status"))
	require.Equal(t, Optimization{Action: "enable"}, parse(t, "optimization enable"))
	require.Equal(t, Optimization{Action: "level", Level: "HIGH"}, parse(t, "optimization level HIGH"))
}

func TestParseCacheCommands(t *testing.T) {
	require.Equal(t, Cache{Action: "clear"}, parse(t, "cache clear"))
	require.Equal(t, Cache{Action: "stats"}, parse(t, "cache stats"))
}

func TestParseStatisticsCollect(t *testing.T) {
	require.Equal(t, StatisticsCollect{}, parse(t, "statistics collect"))
}

func TestValidateStatementRejectsZeroValueInsert(t *testing.T) {
	err := validateStatement(Insert{})
	require.Error(t, err)
}

func TestValidateStatementAcceptsWellFormedStatements(t *testing.T) {
	require.NoError(t, validateStatement(ShowDatabases{}))
	require.NoError(t, validateStatement(Select{Columns: []string{"*"}, DB: "a", Table: "b"}))
}

func TestParseRejectsUnknownStatement(t *testing.T) {
	lexer := NewLexer("frobnicate orders.items")
	tokens, err := lexer.Tokenize()
	require.NoError(t, err)
	_, err = NewParser(tokens).Parse()
	require.Error(t, err)
}
