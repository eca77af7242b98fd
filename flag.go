package btcache

func Set(b, flag PageFlag) PageFlag    { return b | flag }
func Clear(b, flag PageFlag) PageFlag  { return b &^ flag }
func Toggle(b, flag PageFlag) PageFlag { return b ^ flag }
func Has(b, flag PageFlag) bool        { return b&flag != 0 }
