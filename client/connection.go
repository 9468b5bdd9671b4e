package client

import (
	"context"

	"github.com/tsfans/sql2mongo/parser"
)

// 一个逻辑数据库的连接，查询之间共享
type Connection struct {
	name   string
	db     Database
	props  *Properties
	cache  *parser.Cache
	closer func(ctx context.Context) error
}

func NewConnection(db Database, props *Properties, cacheSize int, closer func(ctx context.Context) error) (conn *Connection, err error) {
	conn = &Connection{name: db.Name(), db: db, props: props, closer: closer}
	if cacheSize > 0 {
		conn.cache, err = parser.NewCache(cacheSize)
		if err != nil {
			return nil, err
		}
	}
	return
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) Database() Database {
	return c.db
}

func (c *Connection) Properties() *Properties {
	return c.props
}

// 分词缓存，未开启时为nil
func (c *Connection) Cache() *parser.Cache {
	return c.cache
}

// 从数据库加载已有集合
func (c *Connection) Refresh(ctx context.Context) error {
	names, err := c.db.ListCollectionNames(ctx)
	if err != nil {
		return err
	}
	c.props.ClearCollections()
	c.props.LoadCollections(names)
	return nil
}

func (c *Connection) Close(ctx context.Context) error {
	if c.closer == nil {
		return nil
	}
	return c.closer(ctx)
}
