package config

import (
	"reflect"
	"testing"
)

// TestEnvconfigTags verifies that the envconfig tags operators rely on are
// applied to the expected fields.
func TestEnvconfigTags(t *testing.T) {
	tests := []struct {
		structType reflect.Type
		fieldName  string
		wantValue  string
	}{
		{reflect.TypeOf(Config{}), "Environment", "APP_ENV"},
		{reflect.TypeOf(Config{}), "LogLevel", "LOG_LEVEL"},
		{reflect.TypeOf(Config{}), "LogFormat", "LOG_FORMAT"},
		{reflect.TypeOf(Config{}), "LogFile", "LOG_FILE"},

		{reflect.TypeOf(SourceConfig{}), "Mode", "SOURCE_MODE"},
		{reflect.TypeOf(SourceConfig{}), "Path", "SOURCE_PATH"},
		{reflect.TypeOf(SourceConfig{}), "EndpointURL", "CHESS_ENDPOINT_URL"},
		{reflect.TypeOf(SourceConfig{}), "BucketTemplate", "CHESS_BUCKET_TEMPLATE"},
		{reflect.TypeOf(SourceConfig{}), "StoreTemplate", "CHESS_STORE_TEMPLATE"},
		{reflect.TypeOf(SourceConfig{}), "ReadConcurrency", "READ_CONCURRENCY"},
		{reflect.TypeOf(SourceConfig{}), "ObjectCacheSize", "OBJECT_CACHE_SIZE"},
		{reflect.TypeOf(SourceConfig{}), "ObjectCacheMaxBytes", "OBJECT_CACHE_MAX_BYTES"},

		{reflect.TypeOf(CO2Config{}), "EndpointURL", "CO2_ENDPOINT_URL"},
		{reflect.TypeOf(CO2Config{}), "Bucket", "CO2_BUCKET"},
		{reflect.TypeOf(CO2Config{}), "Path", "CO2_PATH"},

		{reflect.TypeOf(ExtractConfig{}), "Label", "OUTPUT_LABEL"},
		{reflect.TypeOf(ExtractConfig{}), "Workers", "EMIT_WORKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.structType.Name()+"."+tt.fieldName, func(t *testing.T) {
			field, ok := tt.structType.FieldByName(tt.fieldName)
			if !ok {
				t.Fatalf("%s is missing field %q", tt.structType.Name(), tt.fieldName)
			}
			if got := field.Tag.Get("envconfig"); got != tt.wantValue {
				t.Errorf("envconfig tag = %q, want %q", got, tt.wantValue)
			}
		})
	}
}

// TestBuildInfoHasNoEnvTags verifies BuildInfo is never read from the
// environment.
func TestBuildInfoHasNoEnvTags(t *testing.T) {
	typ := reflect.TypeOf(BuildInfo{})
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("envconfig"); tag != "" {
			t.Errorf("BuildInfo.%s has envconfig tag %q", typ.Field(i).Name, tag)
		}
	}
}

func TestTemplateExpansion(t *testing.T) {
	src := SourceConfig{BucketTemplate: "ens{ensmem}-year100kmchunk", StoreTemplate: "{variable}_{ensmem}_year100km.zarr"}
	if got := src.Bucket("06"); got != "ens06-year100kmchunk" {
		t.Errorf("Bucket = %q", got)
	}
	if got := src.Store("06", "sfcWind"); got != "sfcWind_06_year100km.zarr" {
		t.Errorf("Store = %q", got)
	}
	co2 := CO2Config{KeyTemplate: "CHESS-SCAPE_RCP85_{ensmem}.csv"}
	if got := co2.Key("01"); got != "CHESS-SCAPE_RCP85_01.csv" {
		t.Errorf("Key = %q", got)
	}
}
