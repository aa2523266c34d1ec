package manifest

import "errors"

// Manifest errors
var (
	ErrUnknownProperty      = errors.New("unknown property")
	ErrUnknownModel         = errors.New("unknown model")
	ErrUnknownDataset       = errors.New("unknown dataset")
	ErrUnsupportedType      = errors.New("unsupported data type")
	ErrInvalidResource      = errors.New("invalid resource source")
	ErrPropertyOutsideModel = errors.New("property row outside of a model")
	ErrInvalidLevel         = errors.New("invalid level")
	ErrInvalidDenorm        = errors.New("denormalized property must follow a ref")
	ErrReferenceCycle       = errors.New("reference cycle without a level 3 ref")
)
