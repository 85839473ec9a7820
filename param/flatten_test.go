package param

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metadataLeaf(value any, writeable bool, typeName string) map[string]any {
	return map[string]any{"value": value, "writeable": writeable, "type": typeName}
}

func TestFlattenMetadataLeaves(t *testing.T) {
	tree := map[string]any{
		"status": map[string]any{
			"hdf": map[string]any{
				"frames_written": metadataLeaf(0, false, "int"),
			},
		},
		"config": map[string]any{
			"hdf": map[string]any{
				"frames": metadataLeaf(0, true, "int"),
			},
		},
	}

	parameters := CreateParameters(tree)
	require.Len(t, parameters, 2)

	byName := map[string]*Parameter{}
	for _, p := range parameters {
		byName[p.Name()] = p
	}

	require.Contains(t, byName, "config_hdf_frames")
	require.Contains(t, byName, "status_hdf_frames_written")
	assert.True(t, byName["config_hdf_frames"].Metadata.Writeable)
	assert.False(t, byName["status_hdf_frames_written"].Metadata.Writeable)
	assert.Equal(t, TypeInt, byName["config_hdf_frames"].Metadata.Type)
	assert.Equal(t, []string{"config", "hdf", "frames"}, byName["config_hdf_frames"].URI)
}

func TestFlattenConfigListSplitsIntoWritableParameters(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"config": map[string]any{"chunks": []any{1}},
	})

	require.Len(t, parameters, 1)
	assert.Equal(t, []string{"config", "chunks", "0"}, parameters[0].URI)
	assert.True(t, parameters[0].Metadata.Writeable)
	assert.Equal(t, TypeInt, parameters[0].Metadata.Type)
}

func TestFlattenStatusListCollapsesToString(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"status": map[string]any{"values": []any{1}},
	})

	require.Len(t, parameters, 1)
	assert.Equal(t, "[1]", parameters[0].Metadata.Value)
	assert.Equal(t, TypeString, parameters[0].Metadata.Type)
	assert.False(t, parameters[0].Metadata.Writeable)
}

func TestFlattenDropsReservedNames(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"name":        metadataLeaf("foo", false, "str"),
		"description": metadataLeaf("foo", false, "str"),
	})
	assert.Empty(t, parameters)
}

func TestFlattenSkipsCommandSubtree(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"command": map[string]any{
			"execute": metadataLeaf("", true, "str"),
		},
		"status": map[string]any{
			"connected": metadataLeaf(true, false, "bool"),
		},
	})

	require.Len(t, parameters, 1)
	assert.Equal(t, "status_connected", parameters[0].Name())
}

func TestFlattenShardedBranch(t *testing.T) {
	shard := func(frames int) map[string]any {
		return map[string]any{
			"status": map[string]any{
				"frames": metadataLeaf(frames, false, "int"),
			},
		}
	}
	parameters := CreateParameters(map[string]any{
		"fp": []any{shard(1), shard(2)},
	})

	require.Len(t, parameters, 2)
	assert.Equal(t, []string{"fp", "0", "status", "frames"}, parameters[0].URI)
	assert.Equal(t, []string{"fp", "1", "status", "frames"}, parameters[1].URI)
}

func TestFlattenMetadataListValueExpands(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"config": map[string]any{
			"dims": metadataLeaf([]any{2, 3}, true, "int"),
		},
	})

	require.Len(t, parameters, 2)
	assert.Equal(t, []string{"config", "dims", "0"}, parameters[0].URI)
	assert.Equal(t, 2, parameters[0].Metadata.Value)
	assert.True(t, parameters[1].Metadata.Writeable)
	assert.Equal(t, TypeInt, parameters[1].Metadata.Type)
}

func TestFlattenMetadataObjectValueExpands(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"status": map[string]any{
			"buffers": metadataLeaf(map[string]any{"total": 10, "used": 2}, false, "int"),
		},
	})

	require.Len(t, parameters, 2)
	assert.Equal(t, []string{"status", "buffers", "total"}, parameters[0].URI)
	assert.Equal(t, []string{"status", "buffers", "used"}, parameters[1].URI)
}

func TestFlattenDropsUnsupportedTypes(t *testing.T) {
	parameters := CreateParameters(map[string]any{
		"status": map[string]any{
			"weird": metadataLeaf(0, false, "complex128"),
			"ok":    metadataLeaf(0, false, "int"),
		},
	})

	require.Len(t, parameters, 1)
	assert.Equal(t, "status_ok", parameters[0].Name())
}

func TestFlattenIsIdempotent(t *testing.T) {
	tree := map[string]any{
		"config": map[string]any{
			"frames": metadataLeaf(0, true, "int"),
			"path":   metadataLeaf("/tmp", true, "str"),
		},
		"status": map[string]any{
			"frames_written": metadataLeaf(0, false, "int"),
			"values":         []any{1, 2},
		},
	}

	first := CreateParameters(tree)
	second := CreateParameters(tree)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].URI, second[i].URI)
		assert.Equal(t, first[i].Metadata, second[i].Metadata)
	}
}

func TestParameterPathReduction(t *testing.T) {
	p := &Parameter{URI: []string{"0", "status", "hdf", "frames_written"}}
	assert.Equal(t, "0_status_hdf_frames_written", p.Name())

	p.SetPath(p.URI[2:])
	assert.Equal(t, "hdf_frames_written", p.Name())
	assert.Equal(t, []string{"0", "status", "hdf", "frames_written"}, p.URI)
}

func TestPartition(t *testing.T) {
	evens, odds := Partition([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	assert.Equal(t, []int{2, 4}, evens)
	assert.Equal(t, []int{1, 3}, odds)
}
