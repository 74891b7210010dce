package db

import (
	"github.com/google/uuid"
	"github.com/vikstrous/dataloadgen"
)

type dataLoaderKey string

const (
	DataLoaderKeyQuoteData dataLoaderKey = "quote_data_loader"
)

// dataLoader, ok := ctx.Value(db.DataLoaderKeyQuoteData).(*db.QuoteDataLoader)
//
//	if !ok {
//		return nil, fmt.Errorf("data loader is not available")
//	}
type QuoteDataLoader struct {
	GetCollectionList *dataloadgen.Loader[uuid.UUID, *Collection]
}

func NewQuoteDataLoader(dbWrapper QuoteDBWrapper) *QuoteDataLoader {
	return &QuoteDataLoader{
		GetCollectionList: dataloadgen.NewMappedLoader(dbWrapper.DataLoaderGetCollections),
	}
}
