package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/term"

	"github.com/tsfans/sql2mongo/client"
	"github.com/tsfans/sql2mongo/internal/memdb"
	"github.com/tsfans/sql2mongo/query"
)

const (
	prompt         = "sql2mongo> "
	continuePrompt = "       ... "
	explainCommand = `\explain`
)

var (
	configPath = flag.String("config", "", "path of toml config file")
	uri        = flag.String("uri", "", "mongodb connection uri")
	database   = flag.String("db", "", "database name")
	memory     = flag.Bool("memory", false, "use an in-memory database instead of mongodb")
	execute    = flag.String("e", "", "execute one statement and exit")
)

func main() {
	flag.Parse()
	cfg, err := client.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config failed,err=%v", err)
	}
	if *uri != "" {
		cfg.URI = *uri
	}
	if *database != "" {
		cfg.Database = *database
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level,err=%v", err)
	}
	log.SetLevel(level)

	ctx := context.Background()
	conn, closer, err := connect(ctx, cfg)
	if err != nil {
		log.Fatalf("connect failed,err=%v", err)
	}
	defer closer(ctx)

	if *execute != "" {
		if err = run(ctx, conn, os.Stdout, *execute); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			closer(ctx)
			os.Exit(1)
		}
		return
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		err = interactive(ctx, conn)
	} else {
		err = batch(ctx, conn, os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func connect(ctx context.Context, cfg *client.Config) (conn *client.Connection, closer func(ctx context.Context) error, err error) {
	if *memory {
		if conn, err = client.NewConnection(memdb.New(cfg.Database), client.NewProperties(cfg.EnforceSchema), cfg.StatementCacheSize, nil); err != nil {
			return
		}
		closer = conn.Close
		return
	}
	registry := client.NewRegistry(nil)
	if conn, err = registry.Open(ctx, cfg); err != nil {
		return
	}
	closer = registry.CloseAll
	return
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sql2mongo_history")
}

// 交互模式，语句以;结束，\开头的命令单行生效
func interactive(ctx context.Context, conn *client.Connection) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile(),
		AutoComplete:      readline.NewPrefixCompleter(readline.PcItem(explainCommand), readline.PcItem(`\q`)),
		InterruptPrompt:   "^C",
		EOFPrompt:         `\q`,
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.Wrap(err, "init readline")
	}
	defer rl.Close()

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			buf.Reset()
			rl.SetPrompt(prompt)
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		sql, complete, quit := accept(&buf, line)
		if quit {
			return nil
		}
		if !complete {
			rl.SetPrompt(continuePrompt)
			continue
		}
		rl.SetPrompt(prompt)
		if err = run(ctx, conn, rl.Stdout(), sql); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

// 从管道读取语句，遇到错误继续执行后续语句
func batch(ctx context.Context, conn *client.Connection, r io.Reader) (err error) {
	var (
		buf    strings.Builder
		failed int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sql, complete, quit := accept(&buf, scanner.Text())
		if quit {
			break
		}
		if !complete {
			continue
		}
		if err := run(ctx, conn, os.Stdout, sql); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	if err = scanner.Err(); err != nil {
		return
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		if err = run(ctx, conn, os.Stdout, rest); err != nil {
			return
		}
	}
	if failed > 0 {
		err = fmt.Errorf("%v statements failed", failed)
	}
	return
}

// 累积输入行，返回完整语句
func accept(buf *strings.Builder, line string) (sql string, complete, quit bool) {
	trimmed := strings.TrimSpace(line)
	if buf.Len() == 0 {
		switch {
		case trimmed == "":
			return
		case trimmed == `\q`:
			quit = true
			return
		case strings.HasPrefix(trimmed, `\`):
			return trimmed, true, false
		}
	}
	if buf.Len() > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
	if strings.HasSuffix(trimmed, ";") {
		sql, complete = buf.String(), true
		buf.Reset()
	}
	return
}

func run(ctx context.Context, conn *client.Connection, w io.Writer, sql string) (err error) {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	if rest, ok := strings.CutPrefix(sql, explainCommand); ok {
		return explain(conn, w, strings.TrimSuffix(strings.TrimSpace(rest), ";"))
	}
	if strings.HasPrefix(sql, `\`) {
		return fmt.Errorf("unknown command [%v]", sql)
	}
	q, err := query.New(ctx, conn, sql, nil)
	if err != nil {
		return
	}
	defer q.Close(ctx)
	if q.Kind != query.StatementKind_Select {
		n, _ := q.Count(ctx)
		fmt.Fprintf(w, "%v OK, %v rows affected", q.Kind, n)
		if id := q.LastRowID(); id != nil {
			fmt.Fprintf(w, ", last row id: %v", id)
		}
		fmt.Fprintln(w)
		return
	}
	columns := q.Columns()
	rows := 0
	for q.Next(ctx) {
		doc := bson.D{}
		for i, v := range q.Row() {
			doc = append(doc, bson.E{Key: columns[i], Value: v})
		}
		var data []byte
		if data, err = bson.MarshalExtJSON(doc, false, false); err != nil {
			return
		}
		fmt.Fprintln(w, string(data))
		rows++
	}
	if err = q.Err(); err != nil {
		return
	}
	fmt.Fprintf(w, "(%v rows)\n", rows)
	return
}

// 只输出SELECT的查询计划，不执行语句
func explain(conn *client.Connection, w io.Writer, sql string) (err error) {
	plan, err := query.Explain(conn, sql, nil)
	if err != nil {
		return
	}
	doc := bson.D{{Key: "collection", Value: plan.Collection}}
	switch {
	case plan.Empty:
		doc = append(doc, bson.E{Key: "empty", Value: true})
	case plan.Aggregate:
		doc = append(doc, bson.E{Key: "aggregate", Value: plan.Pipeline})
	default:
		doc = append(doc, bson.E{Key: "find", Value: bson.D{
			{Key: "filter", Value: plan.Find.Filter},
			{Key: "projection", Value: plan.Find.Projection},
			{Key: "sort", Value: plan.Find.Sort},
			{Key: "skip", Value: plan.Find.Skip},
			{Key: "limit", Value: plan.Find.Limit},
		}})
	}
	data, err := bson.MarshalExtJSONIndent(doc, false, false, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(w, string(data))
	return
}
