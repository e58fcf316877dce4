package kite

import (
	"strings"
	"sync"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// instrumentMapper manages bidirectional mapping between symbols and tokens
type instrumentMapper struct {
	symbolToToken map[string]uint32
	tokenToSymbol map[uint32]string
	mu            sync.RWMutex
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		symbolToToken: make(map[string]uint32),
		tokenToSymbol: make(map[uint32]string),
	}
}

// load replaces the mapping with the equity instruments of one exchange.
func (im *instrumentMapper) load(instruments kiteconnect.Instruments, exchange string) int {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.symbolToToken = make(map[string]uint32, len(instruments))
	im.tokenToSymbol = make(map[uint32]string, len(instruments))
	for _, inst := range instruments {
		if exchange != "" && !strings.EqualFold(inst.Exchange, exchange) {
			continue
		}
		if inst.InstrumentType != "" && inst.InstrumentType != "EQ" {
			continue
		}
		token := uint32(inst.InstrumentToken)
		im.symbolToToken[inst.Tradingsymbol] = token
		im.tokenToSymbol[token] = inst.Tradingsymbol
	}
	return len(im.symbolToToken)
}

func (im *instrumentMapper) addMapping(symbol string, token uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.symbolToToken[symbol] = token
	im.tokenToSymbol[token] = symbol
}

func (im *instrumentMapper) getToken(symbol string) (uint32, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	token, exists := im.symbolToToken[symbol]
	return token, exists
}

func (im *instrumentMapper) getSymbol(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	return im.tokenToSymbol[token]
}
