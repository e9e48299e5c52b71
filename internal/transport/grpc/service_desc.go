package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "dosewise.v1.Schedules"

type SchedulesServiceServer interface {
	CreateSchedule(ctx context.Context, req *CreateScheduleRequest) (*CreateScheduleResponse, error)
	UpdateSchedule(ctx context.Context, req *UpdateScheduleRequest) (*UpdateScheduleResponse, error)
	GetSchedule(ctx context.Context, req *GetScheduleRequest) (*GetScheduleResponse, error)
	ListSchedules(ctx context.Context, req *ListSchedulesRequest) (*ListSchedulesResponse, error)
	DeleteSchedule(ctx context.Context, req *DeleteScheduleRequest) (*DeleteScheduleResponse, error)
	LogDose(ctx context.Context, req *LogDoseRequest) (*LogDoseResponse, error)
	ListDoseLogs(ctx context.Context, req *ListDoseLogsRequest) (*ListDoseLogsResponse, error)
	ListUpcomingDoses(ctx context.Context, req *ListUpcomingDosesRequest) (*ListUpcomingDosesResponse, error)
	PreviewNextOccurrence(ctx context.Context, req *PreviewNextOccurrenceRequest) (*PreviewNextOccurrenceResponse, error)
	ExportCalendar(ctx context.Context, req *ExportCalendarRequest) (*ExportCalendarResponse, error)
}

func RegisterSchedulesServiceServer(s grpc.ServiceRegistrar, srv SchedulesServiceServer) {
	s.RegisterService(&schedulesServiceDesc, srv)
}

var schedulesServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulesServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateSchedule", SchedulesServiceServer.CreateSchedule),
		unaryMethod("UpdateSchedule", SchedulesServiceServer.UpdateSchedule),
		unaryMethod("GetSchedule", SchedulesServiceServer.GetSchedule),
		unaryMethod("ListSchedules", SchedulesServiceServer.ListSchedules),
		unaryMethod("DeleteSchedule", SchedulesServiceServer.DeleteSchedule),
		unaryMethod("LogDose", SchedulesServiceServer.LogDose),
		unaryMethod("ListDoseLogs", SchedulesServiceServer.ListDoseLogs),
		unaryMethod("ListUpcomingDoses", SchedulesServiceServer.ListUpcomingDoses),
		unaryMethod("PreviewNextOccurrence", SchedulesServiceServer.PreviewNextOccurrence),
		unaryMethod("ExportCalendar", SchedulesServiceServer.ExportCalendar),
	},
	Metadata: "dosewise/v1/schedules.proto",
}

func unaryMethod[Req, Resp any](name string, call func(SchedulesServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(SchedulesServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SchedulesClient calls dosewise.v1.Schedules with the JSON codec.
type SchedulesClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulesClient(cc grpc.ClientConnInterface) *SchedulesClient {
	return &SchedulesClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulesClient) CreateSchedule(ctx context.Context, in *CreateScheduleRequest, opts ...grpc.CallOption) (*CreateScheduleResponse, error) {
	return invoke[CreateScheduleResponse](ctx, c.cc, "CreateSchedule", in, opts)
}

func (c *SchedulesClient) UpdateSchedule(ctx context.Context, in *UpdateScheduleRequest, opts ...grpc.CallOption) (*UpdateScheduleResponse, error) {
	return invoke[UpdateScheduleResponse](ctx, c.cc, "UpdateSchedule", in, opts)
}

func (c *SchedulesClient) GetSchedule(ctx context.Context, in *GetScheduleRequest, opts ...grpc.CallOption) (*GetScheduleResponse, error) {
	return invoke[GetScheduleResponse](ctx, c.cc, "GetSchedule", in, opts)
}

func (c *SchedulesClient) ListSchedules(ctx context.Context, in *ListSchedulesRequest, opts ...grpc.CallOption) (*ListSchedulesResponse, error) {
	return invoke[ListSchedulesResponse](ctx, c.cc, "ListSchedules", in, opts)
}

func (c *SchedulesClient) DeleteSchedule(ctx context.Context, in *DeleteScheduleRequest, opts ...grpc.CallOption) (*DeleteScheduleResponse, error) {
	return invoke[DeleteScheduleResponse](ctx, c.cc, "DeleteSchedule", in, opts)
}

func (c *SchedulesClient) LogDose(ctx context.Context, in *LogDoseRequest, opts ...grpc.CallOption) (*LogDoseResponse, error) {
	return invoke[LogDoseResponse](ctx, c.cc, "LogDose", in, opts)
}

func (c *SchedulesClient) ListDoseLogs(ctx context.Context, in *ListDoseLogsRequest, opts ...grpc.CallOption) (*ListDoseLogsResponse, error) {
	return invoke[ListDoseLogsResponse](ctx, c.cc, "ListDoseLogs", in, opts)
}

func (c *SchedulesClient) ListUpcomingDoses(ctx context.Context, in *ListUpcomingDosesRequest, opts ...grpc.CallOption) (*ListUpcomingDosesResponse, error) {
	return invoke[ListUpcomingDosesResponse](ctx, c.cc, "ListUpcomingDoses", in, opts)
}

func (c *SchedulesClient) PreviewNextOccurrence(ctx context.Context, in *PreviewNextOccurrenceRequest, opts ...grpc.CallOption) (*PreviewNextOccurrenceResponse, error) {
	return invoke[PreviewNextOccurrenceResponse](ctx, c.cc, "PreviewNextOccurrence", in, opts)
}

func (c *SchedulesClient) ExportCalendar(ctx context.Context, in *ExportCalendarRequest, opts ...grpc.CallOption) (*ExportCalendarResponse, error) {
	return invoke[ExportCalendarResponse](ctx, c.cc, "ExportCalendar", in, opts)
}
