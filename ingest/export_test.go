package ingest

var ItemsUpserted = itemsUpserted
