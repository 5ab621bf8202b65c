/*
Package telemetry instruments the frontend host so that browser activity and
the calls it makes land in one trace stream with the backend services.

Architecture Overview:

 1. Producers - the HTTP call interceptor, the interaction tracker, the page
    load tracker and the vitals collector
 2. Telemetry context - a process-wide *Telemetry built once by Initialize,
    holding providers, propagation and the instrument registry
 3. Export - OpenTelemetry batch span processor and periodic metric reader,
    wrapped so failed batches are dropped and counted

Metrics:

	http_client_request_duration_ms  {http.route, http.method, http.status_code}
	http_client_requests_total       {http.route, http.method}
	http_client_errors_total         {http.route, http.method, http.status_code}
	web_vitals_lcp_ms, web_vitals_cls, web_vitals_fid_ms, web_vitals_inp_ms
	frontend_business_events_total   {event}

Route labels come from NormalizeRoute: numeric path segments are erased so
that /users/42 and /users/7 aggregate under /users.

Thread Safety:

All exported functions are safe for concurrent use. Recording never blocks on
export and never panics into the caller.

Usage:

	cfg, err := telemetry.LoadConfig(telemetry.ProfileProduction)
	if err != nil {
	    log.Fatal(err)
	}
	tel, err := telemetry.Initialize(ctx, cfg)
	if err != nil {
	    log.Fatal(err)
	}
	defer tel.Shutdown(context.Background())

	bus := telemetry.NewBus()
	sub := tel.Observe(bus)
	defer sub.Unsubscribe()

	resp, err := tel.HTTPClient().Get("http://localhost/api/fastapi-msc-test/rolldice")
*/
package telemetry
