// Package store keeps symbol groups per tile in an MBTiles-like SQL table
// and serves them as a symbols provider.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"Fast-SymbolTiler/symbols"
)

//SymbolStore 符号组库, sqlite3 or mysql
type SymbolStore struct {
	db     *sql.DB
	driver string
}

//Open 打开并准备表
func Open(driver, conn string) (*SymbolStore, error) {
	if driver != "sqlite3" && driver != "mysql" {
		return nil, errors.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	s := &SymbolStore{db: db, driver: driver}
	if err := s.setupTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SymbolStore) setupTables() error {
	if s.driver == "mysql" {
		s.db.SetMaxOpenConns(10)
		s.db.SetMaxIdleConns(10)
		_, err := s.db.Exec("create table if not exists symbol_groups (zoom_level integer, tile_column integer, tile_row integer, group_id bigint, shareable tinyint, symbols mediumblob);")
		if err != nil {
			return errors.Wrap(err, "create symbol_groups")
		}
		_, _ = s.db.Exec("create unique index group_index on symbol_groups(zoom_level, tile_column, tile_row, group_id);")
		return nil
	}
	if err := optimizeConnection(s.db); err != nil {
		return errors.Wrap(err, "sqlite pragma")
	}
	_, err := s.db.Exec("create table if not exists symbol_groups (zoom_level integer, tile_column integer, tile_row integer, group_id integer, shareable integer, symbols blob);")
	if err != nil {
		return errors.Wrap(err, "create symbol_groups")
	}
	_, err = s.db.Exec("create unique index if not exists group_index on symbol_groups(zoom_level, tile_column, tile_row, group_id);")
	return errors.Wrap(err, "create group_index")
}

func optimizeConnection(db *sql.DB) error {
	_, err := db.Exec("PRAGMA synchronous=1")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA journal_mode=OFF")
	if err != nil {
		return err
	}
	return nil
}

//Close 关闭连接
func (s *SymbolStore) Close() error {
	return s.db.Close()
}

// flipY converts an XYZ row to the TMS row stored in the table.
func flipY(t maptile.Tile) uint32 {
	return (1 << uint32(t.Z)) - t.Y - 1
}

//SaveGroups 批量写入一个瓦片的符号组
func (s *SymbolStore) SaveGroups(t maptile.Tile, groups []*symbols.MapSymbolsGroup) error {
	if len(groups) == 0 {
		return nil
	}
	sqlStr := "insert or ignore into symbol_groups (zoom_level, tile_column, tile_row, group_id, shareable, symbols) values %s"
	if s.driver == "mysql" {
		sqlStr = "insert ignore into symbol_groups (zoom_level, tile_column, tile_row, group_id, shareable, symbols) values %s"
	}
	placeholder := "(?,?,?,?,?,?)"
	bulkValues := []interface{}{}
	valueStrings := make([]string, 0, len(groups))
	for _, group := range groups {
		blob, err := encodeSymbols(group.Symbols)
		if err != nil {
			return errors.Wrapf(err, "encode group %d", group.ID)
		}
		shareable := 0
		if group.Shareable {
			shareable = 1
		}
		valueStrings = append(valueStrings, placeholder)
		bulkValues = append(bulkValues, t.Z, t.X, flipY(t), int64(group.ID), shareable, blob)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(sqlStr, strings.Join(valueStrings, ",")), bulkValues...)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "save tile %v", t)
	}
	return tx.Commit()
}

// group ids are stored as the int64 with the same bits, both dialects
// declare the column signed.
type groupHeader struct {
	id        uint64
	shareable bool
}

// ObtainData offers every group header of the tile to accept and decodes
// only the groups it accepts. A tile without rows is empty.
func (s *SymbolStore) ObtainData(ctx context.Context, tileID symbols.TileID, zoom symbols.ZoomLevel, accept symbols.AcceptFunc) (*symbols.TiledSymbolsData, error) {
	rows, err := s.db.QueryContext(ctx,
		"select group_id, shareable from symbol_groups where zoom_level=? and tile_column=? and tile_row=? order by group_id",
		zoom, tileID.X, flipY(tileID))
	if err != nil {
		return nil, errors.Wrapf(err, "query tile %v", tileID)
	}
	var headers []groupHeader
	for rows.Next() {
		var id int64
		var shareable int
		if err := rows.Scan(&id, &shareable); err != nil {
			_ = rows.Close()
			return nil, errors.Wrapf(err, "scan tile %v", tileID)
		}
		headers = append(headers, groupHeader{id: uint64(id), shareable: shareable != 0})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, nil
	}

	data := &symbols.TiledSymbolsData{TileID: tileID, Zoom: zoom}
	for _, h := range headers {
		group := &symbols.MapSymbolsGroup{ID: h.id, Shareable: h.shareable}
		if !accept(group) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var blob []byte
		err := s.db.QueryRowContext(ctx,
			"select symbols from symbol_groups where zoom_level=? and tile_column=? and tile_row=? and group_id=?",
			zoom, tileID.X, flipY(tileID), int64(h.id)).Scan(&blob)
		if err != nil {
			return nil, errors.Wrapf(err, "load group %d of tile %v", h.id, tileID)
		}
		group.Symbols, err = decodeSymbols(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "decode group %d of tile %v", h.id, tileID)
		}
		data.SymbolsGroups = append(data.SymbolsGroups, group)
	}
	log.Debugf("tile %v: %d group(s), %d decoded", tileID, len(headers), len(data.SymbolsGroups))
	return data, nil
}
