package speedtile

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Equivalent .proto, compiled into the binary so decoding never needs to
// fetch a schema:
//
//	syntax = "proto2";
//	package speedtiles;
//
//	message SpeedTile {
//	  optional uint32 level = 1;
//	  optional uint32 index = 2;
//	  repeated SubTile subtiles = 3;
//
//	  message SubTile {
//	    optional uint32 startSegmentIndex = 1;
//	    optional uint32 subtileSegments = 2;
//	    optional uint32 totalSegments = 3;
//	    repeated uint32 referenceSpeeds = 4 [packed = true];
//	    optional string description = 5;
//	  }
//	}

type tileSchema struct {
	tile     protoreflect.MessageDescriptor
	level    protoreflect.FieldDescriptor
	index    protoreflect.FieldDescriptor
	subtiles protoreflect.FieldDescriptor

	subtile         protoreflect.MessageDescriptor
	startSegment    protoreflect.FieldDescriptor
	subtileSegments protoreflect.FieldDescriptor
	totalSegments   protoreflect.FieldDescriptor
	referenceSpeeds protoreflect.FieldDescriptor
}

var schema = mustSchema()

func uint32Field(name string, num int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_UINT32.Enum(),
	}
}

func fileDescriptor() *descriptorpb.FileDescriptorProto {
	speeds := uint32Field("referenceSpeeds", 4)
	speeds.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	speeds.Options = &descriptorpb.FieldOptions{Packed: proto.Bool(true)}

	description := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String("description"),
		Number: proto.Int32(5),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}

	subtiles := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String("subtiles"),
		Number:   proto.Int32(3),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(".speedtiles.SpeedTile.SubTile"),
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("speedtile.proto"),
		Package: proto.String("speedtiles"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("SpeedTile"),
			Field: []*descriptorpb.FieldDescriptorProto{
				uint32Field("level", 1),
				uint32Field("index", 2),
				subtiles,
			},
			NestedType: []*descriptorpb.DescriptorProto{{
				Name: proto.String("SubTile"),
				Field: []*descriptorpb.FieldDescriptorProto{
					uint32Field("startSegmentIndex", 1),
					uint32Field("subtileSegments", 2),
					uint32Field("totalSegments", 3),
					speeds,
					description,
				},
			}},
		}},
	}
}

func buildSchema() (*tileSchema, error) {
	fd, err := protodesc.NewFile(fileDescriptor(), new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("build speed tile descriptor: %w", err)
	}
	tile := fd.Messages().ByName("SpeedTile")
	if tile == nil {
		return nil, errors.New("descriptor missing SpeedTile")
	}
	sub := tile.Messages().ByName("SubTile")
	if sub == nil {
		return nil, errors.New("descriptor missing SpeedTile.SubTile")
	}
	tf, sf := tile.Fields(), sub.Fields()
	return &tileSchema{
		tile:            tile,
		level:           tf.ByName("level"),
		index:           tf.ByName("index"),
		subtiles:        tf.ByName("subtiles"),
		subtile:         sub,
		startSegment:    sf.ByName("startSegmentIndex"),
		subtileSegments: sf.ByName("subtileSegments"),
		totalSegments:   sf.ByName("totalSegments"),
		referenceSpeeds: sf.ByName("referenceSpeeds"),
	}, nil
}

func mustSchema() *tileSchema {
	s, err := buildSchema()
	if err != nil {
		panic(err)
	}
	return s
}
