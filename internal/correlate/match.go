package correlate

import (
	"encoding/json"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const fuzzyThreshold = 0.8

// candidate is one scored (threat product, asset product/OS) pairing.
type candidate struct {
	confidence float64
	kind       models.MatchKind
	details    matchDetails
}

// matchDetails reproduces the scoring inputs for the association record.
type matchDetails struct {
	ThreatProduct     string  `json:"threat_product"`
	ThreatVersion     string  `json:"threat_version,omitempty"`
	AssetProduct      string  `json:"asset_product,omitempty"`
	AssetVersion      string  `json:"asset_version,omitempty"`
	AssetOS           string  `json:"asset_os,omitempty"`
	NormalizedName    string  `json:"normalized_name"`
	NameSimilarity    float64 `json:"name_similarity"`
	VersionMultiplier float64 `json:"version_multiplier,omitempty"`
}

// matchAsset scores a threat against one asset. The best-scoring pairing
// wins; zero-confidence pairings are dropped.
func matchAsset(threat *models.Threat, asset *models.Asset) (candidate, bool) {
	var best candidate
	found := false

	consider := func(c candidate) {
		if c.confidence <= 0 {
			return
		}
		if !found || c.confidence > best.confidence {
			best = c
			found = true
		}
	}

	for _, tp := range threat.Products {
		if tp.Type.IsOS() {
			if c, ok := matchOS(tp, asset); ok {
				consider(c)
			}
			continue
		}
		for _, ap := range asset.Products {
			if c, ok := matchProducts(tp, ap); ok {
				consider(c)
			}
		}
	}

	if best.confidence > 1.0 {
		best.confidence = 1.0
	}
	return best, found
}

// matchProducts scores one threat product against one installed product.
func matchProducts(tp models.ThreatProduct, ap models.AssetProduct) (candidate, bool) {
	assetName, assetVersion := splitAssetProduct(ap.Name, ap.Version)

	tn := normalizeName(tp.Name)
	an := normalizeName(assetName)
	if tn == "" || an == "" {
		return candidate{}, false
	}

	nameBase := 0.0
	exact := false
	sim := 0.0
	if tn == an {
		exact = true
		nameBase = 1.0
		sim = 1.0
	} else {
		sim = similarity(tn, an)
		if sim < fuzzyThreshold {
			return candidate{}, false
		}
		nameBase = sim
	}

	threatVersion := ""
	if tp.Version != nil {
		threatVersion = *tp.Version
	}
	vm := reconcileVersions(threatVersion, assetVersion)
	if vm == versionNoMatch {
		return candidate{}, false
	}

	multiplier := vm.multiplier()
	confidence := nameBase * multiplier
	if !exact {
		confidence *= 0.9
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return candidate{
		confidence: confidence,
		kind:       productMatchKind(exact, vm),
		details: matchDetails{
			ThreatProduct:     tp.Name,
			ThreatVersion:     threatVersion,
			AssetProduct:      ap.Name,
			AssetVersion:      assetVersion,
			NormalizedName:    tn,
			NameSimilarity:    sim,
			VersionMultiplier: multiplier,
		},
	}, true
}

// matchOS scores an OS-typed threat product against the asset's operating
// system label.
func matchOS(tp models.ThreatProduct, asset *models.Asset) (candidate, bool) {
	if asset.OperatingSystem == "" {
		return candidate{}, false
	}

	tn := normalizeName(tp.Name)
	an := normalizeName(asset.OperatingSystem)
	if tn == "" || an == "" {
		return candidate{}, false
	}

	confidence := 0.0
	sim := 0.0
	if tn == an {
		confidence = 0.9
		sim = 1.0
	} else {
		sim = similarity(tn, an)
		if sim < fuzzyThreshold {
			return candidate{}, false
		}
		confidence = 0.8 * sim
	}

	return candidate{
		confidence: confidence,
		kind:       models.MatchOS,
		details: matchDetails{
			ThreatProduct:  tp.Name,
			AssetOS:        asset.OperatingSystem,
			NormalizedName: tn,
			NameSimilarity: sim,
		},
	}, true
}

func productMatchKind(exact bool, vm versionMatch) models.MatchKind {
	if exact {
		switch vm {
		case versionExact:
			return models.MatchExactProductVersionExact
		case versionRange:
			return models.MatchExactProductVersionRange
		case versionMajor:
			return models.MatchExactProductVersionMajor
		default:
			return models.MatchExactProductNoVersion
		}
	}
	switch vm {
	case versionExact:
		return models.MatchFuzzyProductVersionExact
	case versionRange:
		return models.MatchFuzzyProductVersionRange
	case versionMajor:
		return models.MatchFuzzyProductVersionMajor
	default:
		return models.MatchFuzzyProductNoVersion
	}
}

func (d matchDetails) marshal() json.RawMessage {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return raw
}
