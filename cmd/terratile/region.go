package main

import (
	"database/sql"
	"fmt"
	"io/ioutil"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	_ "github.com/shaxbee/go-spatialite"
	log "github.com/sirupsen/logrus"
)

// loadCollection reads a coverage region from a geojson feature
// collection file.
func loadCollection(path string) (orb.Collection, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unable to unmarshal feature: %w", err)
	}
	var collection orb.Collection
	for _, f := range fc.Features {
		collection = append(collection, f.Geometry)
	}
	return collection, nil
}

// loadCollectionSpatialite reads a coverage region out of a spatialite
// table's geometry column.
func loadCollectionSpatialite(path, table, column string) (orb.Collection, error) {
	db, err := sql.Open("spatialite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf("SELECT AsGeoJSON(%s) FROM %s", column, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collection orb.Collection
	for rows.Next() {
		var gj string
		if err := rows.Scan(&gj); err != nil {
			log.Warnf("scan geometry from %s error ~ %s", table, err)
			continue
		}
		g, err := geojson.UnmarshalGeometry([]byte(gj))
		if err != nil {
			log.Warnf("unmarshal geometry from %s error ~ %s", table, err)
			continue
		}
		collection = append(collection, g.Geometry())
	}
	return collection, rows.Err()
}
