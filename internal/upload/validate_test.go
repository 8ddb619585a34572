package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"缺少 filetype", `{"overwrite":{"group_name":"g","project_name":"p","series_uid":"1","acq_no":1,"manufacturer":"GE"}}`, "filetype"},
		{"缺少 overwrite", `{"filetype":"dicom"}`, "overwrite"},
		{"缺少 acq_no", `{"filetype":"dicom","overwrite":{"group_name":"g","project_name":"p","series_uid":"1","manufacturer":"GE"}}`, "overwrite.acq_no"},
		{"缺少 group_name", `{"filetype":"dicom","overwrite":{"project_name":"p","series_uid":"1","acq_no":1,"manufacturer":"GE"}}`, "overwrite.group_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, violations := ValidateMetadata([]byte(tt.body))
			assert.Nil(t, meta)
			require.NotEmpty(t, violations)
			assert.Equal(t, tt.wantField, violations[0].Field)
			assert.Contains(t, violations.Error(), "is a required property")
		})
	}
}

func TestValidateMetadata_TypeErrors(t *testing.T) {
	_, violations := ValidateMetadata([]byte(`{"filetype":"dicom","overwrite":{"group_name":"g","project_name":"p","series_uid":"1","acq_no":"one","manufacturer":"GE"}}`))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "acq_no")

	_, violations = ValidateMetadata([]byte(`not json`))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "invalid JSON")
}

func TestValidateMetadata_AllowsExtraFields(t *testing.T) {
	meta, violations := ValidateMetadata([]byte(`{"filetype":"dicom","station":"mr1","overwrite":{"group_name":"g","project_name":"p","series_uid":"1.2.3","acq_no":0,"manufacturer":"GE"}}`))
	require.Empty(t, violations)
	require.NotNil(t, meta)
	assert.Equal(t, "1.2.3_0_dicom", meta.ArcName())
}

func TestArcName(t *testing.T) {
	one := 1
	tests := []struct {
		name         string
		manufacturer string
		want         string
	}{
		{"普通设备带采集号", "GE", "1.2.3_1_dicom"},
		{"SIEMENS 不带采集号", "SIEMENS", "1.2.3_dicom"},
		{"大小写不敏感", "Siemens", "1.2.3_dicom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := &Metadata{Filetype: "dicom", Overwrite: &Overwrite{SeriesUID: "1.2.3", AcqNo: &one, Manufacturer: tt.manufacturer}}
			assert.Equal(t, tt.want, meta.ArcName())
		})
	}
}
