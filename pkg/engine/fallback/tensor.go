package fallback

import (
	"github.com/justinsb/kgraph/pkg/tensor"
)

// value is the result of one operation during a run. Owned values were
// allocated by the run and are released when it ends; borrowed ones belong
// to the feed set or to a Const node.
type value struct {
	t     *tensor.Tensor
	owned bool
}

func owned(t *tensor.Tensor) *value {
	return &value{t: t, owned: true}
}

func borrowed(t *tensor.Tensor) *value {
	return &value{t: t}
}

func (v *value) release() error {
	if !v.owned {
		return nil
	}
	return v.t.Release()
}
