package ledger

import "fmt"

// Directory binds resolved module addresses to typed clients. The resolver
// answers "what address serves this module key"; the directory answers
// "what client speaks to this address". Keeping the two separate means the
// staleness policy can be tested without any client wiring.
type Directory struct {
	collateral map[string]CollateralLedger
	debt       map[string]DebtLedger
	viewCaches map[string]ViewCache
	priceFeeds map[string]PriceFeed
}

func NewDirectory() *Directory {
	return &Directory{
		collateral: make(map[string]CollateralLedger),
		debt:       make(map[string]DebtLedger),
		viewCaches: make(map[string]ViewCache),
		priceFeeds: make(map[string]PriceFeed),
	}
}

func (d *Directory) BindCollateral(addr string, client CollateralLedger) {
	d.collateral[addr] = client
}

func (d *Directory) BindDebt(addr string, client DebtLedger) {
	d.debt[addr] = client
}

func (d *Directory) BindViewCache(addr string, client ViewCache) {
	d.viewCaches[addr] = client
}

func (d *Directory) BindPriceFeed(addr string, client PriceFeed) {
	d.priceFeeds[addr] = client
}

func (d *Directory) Collateral(addr string) (CollateralLedger, error) {
	client, ok := d.collateral[addr]
	if !ok {
		return nil, fmt.Errorf("%w: collateral ledger at %q", ErrUnknownModuleAddress, addr)
	}
	return client, nil
}

func (d *Directory) Debt(addr string) (DebtLedger, error) {
	client, ok := d.debt[addr]
	if !ok {
		return nil, fmt.Errorf("%w: debt ledger at %q", ErrUnknownModuleAddress, addr)
	}
	return client, nil
}

func (d *Directory) ViewCache(addr string) (ViewCache, error) {
	client, ok := d.viewCaches[addr]
	if !ok {
		return nil, fmt.Errorf("%w: view cache at %q", ErrUnknownModuleAddress, addr)
	}
	return client, nil
}

func (d *Directory) PriceFeed(addr string) (PriceFeed, error) {
	client, ok := d.priceFeeds[addr]
	if !ok {
		return nil, fmt.Errorf("%w: price feed at %q", ErrUnknownModuleAddress, addr)
	}
	return client, nil
}
